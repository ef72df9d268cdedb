package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/geocache"
)

func createCacheCmd(a *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the geocode cache",
	}
	cacheCmd.AddCommand(createCacheStatsCmd(a))
	cacheCmd.AddCommand(createCacheClearCmd(a))
	cacheCmd.AddCommand(createCacheForgetCmd(a))
	return cacheCmd
}

func createCacheStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and failure breakdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, closeCache, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()

			s := cache.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "entries:  %d\n", s.Total)
			fmt.Fprintf(out, "resolved: %d\n", s.Resolved)
			fmt.Fprintf(out, "failed:   %d\n", s.Failed)

			reasons := make([]string, 0, len(s.ByReason))
			for r := range s.ByReason {
				reasons = append(reasons, string(r))
			}
			sort.Strings(reasons)
			for _, r := range reasons {
				fmt.Fprintf(out, "  %s: %d\n", r, s.ByReason[domain.FailureReason(r)])
			}
			return nil
		},
	}
}

func createCacheClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cache, closeCache, err := a.openCache(ctx)
			if err != nil {
				return err
			}
			defer closeCache()

			n := cache.Clear()
			if err := cache.Flush(ctx); err != nil {
				return err
			}
			a.logger.Info("cache cleared", "removed", n)
			return nil
		},
	}
}

func createCacheForgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget ADDRESS...",
		Short: "Drop the cached outcome for addresses so the next run geocodes them again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cache, closeCache, err := a.openCache(ctx)
			if err != nil {
				return err
			}
			defer closeCache()

			n := a.newNormalizer()
			for _, raw := range args {
				key := geocache.Key(raw)
				if addr, err := n.Normalize(raw); err == nil {
					key = addr.Key()
				}
				if cache.Forget(key) {
					a.logger.Info("cache entry removed", "address", raw, "key", key)
				} else {
					a.logger.Warn("no cache entry", "address", raw, "key", key)
				}
			}
			return cache.Flush(ctx)
		},
	}
}
