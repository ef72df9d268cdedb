package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/usittel/nap-proximity/internal/adapter/sheet"
	"github.com/usittel/nap-proximity/internal/domain"
	"github.com/usittel/nap-proximity/internal/observability"
)

func createNapsCmd(a *app) *cobra.Command {
	napsCmd := &cobra.Command{
		Use:   "naps",
		Short: "NAP inventory tools",
	}
	napsCmd.AddCommand(createNapsExportCmd(a))
	return napsCmd
}

func createNapsExportCmd(a *app) *cobra.Command {
	var napsPath, outputPath string
	var geocode bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the NAP inventory as the JSON the coverage map reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			naps, _, err := a.loadNaps(napsPath)
			if err != nil {
				return err
			}

			if geocode {
				cache, closeCache, err := a.openCache(ctx)
				if err != nil {
					return err
				}
				defer closeCache()

				r := a.newResolver(cache, observability.NewMetrics())
				n := a.newNormalizer()
				located := 0
				for i := range naps {
					if naps[i].Location != nil {
						continue
					}
					addr, err := n.Normalize(naps[i].StreetAddress)
					if err != nil {
						a.logger.Warn("nap address unusable", "nap_id", naps[i].ID, "address", naps[i].StreetAddress)
						continue
					}
					out, err := r.Resolve(ctx, addr)
					if err != nil {
						_ = cache.Flush(ctx)
						return err
					}
					if out.Status != domain.GeocodeResolved {
						a.logger.Warn("nap not geocoded", "nap_id", naps[i].ID, "address", naps[i].StreetAddress, "reason", out.Reason)
						continue
					}
					p := out.Point
					naps[i].Location = &p
					located++
				}
				if err := cache.Flush(ctx); err != nil {
					a.logger.Error("cache flush failed", "error", err)
				}
				a.logger.Info("naps geocoded", "located", located)
			}

			if err := writeFile(outputPath, func(f *os.File) error {
				return sheet.WriteNapMap(f, naps)
			}); err != nil {
				return err
			}
			a.logger.Info("nap map written", "path", outputPath, "naps", len(naps))
			return nil
		},
	}
	cmd.Flags().StringVar(&napsPath, "naps", "", "NAP inventory sheet (CSV)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "naps.json", "map data destination")
	cmd.Flags().BoolVar(&geocode, "geocode", false, "geocode NAPs that have no coordinates")
	_ = cmd.MarkFlagRequired("naps")
	return cmd
}
