package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/observability"
)

func createNormalizeCmd(a *app) *cobra.Command {
	var geocode bool

	cmd := &cobra.Command{
		Use:   "normalize ADDRESS...",
		Short: "Preview how raw addresses are normalized, and optionally geocoded",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n := a.newNormalizer()

			var resolve func(domain.NormalizedAddress) (string, error)
			if geocode {
				cache, closeCache, err := a.openCache(ctx)
				if err != nil {
					return err
				}
				defer closeCache()
				r := a.newResolver(cache, observability.NewMetrics())
				resolve = func(addr domain.NormalizedAddress) (string, error) {
					out, err := r.Resolve(ctx, addr)
					if err != nil {
						return "", err
					}
					return describeOutcome(out), nil
				}
				defer func() {
					if err := cache.Flush(ctx); err != nil {
						a.logger.Error("cache flush failed", "error", err)
					}
				}()
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, raw := range args {
				addr, err := n.Normalize(raw)
				if err != nil {
					fmt.Fprintf(tw, "%s\t%s\n", raw, domain.ReasonNormalizationFailed)
					continue
				}
				if resolve == nil {
					fmt.Fprintf(tw, "%s\t%s\n", raw, addr)
					continue
				}
				outcome, err := resolve(addr)
				if err != nil {
					_ = tw.Flush()
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", raw, addr, outcome)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&geocode, "geocode", false, "also resolve each address through the cache and gazetteer")
	return cmd
}

// describeOutcome renders a geocode outcome for operators.
func describeOutcome(out domain.GeocodeOutcome) string {
	if out.Status == domain.GeocodeResolved {
		if out.FromCache {
			return out.Point.String() + " (cached)"
		}
		return out.Point.String()
	}
	if out.Detail != "" {
		return fmt.Sprintf("%s: %s", out.Reason, out.Detail)
	}
	return string(out.Reason)
}
