package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/usittel/nap-proximity/internal/adapter/sheet"
	"github.com/usittel/nap-proximity/internal/observability"
	"github.com/usittel/nap-proximity/internal/pipeline"
)

func createRunCmd(a *app) *cobra.Command {
	var customersPath, napsPath, outputPath, zone string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Geocode customers and assign each to the nearest eligible NAP",
		Long: `Loads the customer and NAP sheets, geocodes every address through the cache,
assigns each customer to the nearest NAP under the occupancy threshold on a
compatible street, and writes a CSV report with matched rows first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			customers, err := loadCustomers(customersPath, sheet.ParseStatusFilter(a.cfg.CustomerStatus), zone)
			if err != nil {
				return err
			}
			a.logger.Info("customers loaded", "path", customersPath, "eligible", len(customers.Customers),
				"skipped_by_status", customers.Skipped, "encoding", customers.Encoding)

			naps, enc, err := a.loadNaps(napsPath)
			if err != nil {
				return err
			}
			a.logger.Info("naps loaded", "path", napsPath, "count", len(naps), "encoding", enc)

			cache, closeCache, err := a.openCache(ctx)
			if err != nil {
				return err
			}
			defer closeCache()

			metrics := observability.NewMetrics()
			batch := pipeline.New(a.newNormalizer(), a.newResolver(cache, metrics), a.newMatcher(), cache, pipeline.Options{
				FlushEvery:       a.cfg.CacheFlushEvery,
				ReservePorts:     a.cfg.ReservePorts,
				SuspiciousMeters: a.cfg.SuspiciousMeters,
				LoadAttempts:     3,
			}, a.logger, metrics)

			closeSinks, err := a.addSinks(ctx, batch)
			if err != nil {
				return err
			}
			defer closeSinks()

			stopServer := a.startOpsServer(batch)
			defer stopServer()

			report, runErr := batch.Run(ctx, customers.Customers, naps)
			if errors.Is(runErr, pipeline.ErrFirstCallFailed) {
				return fmt.Errorf("gazetteer unreachable, nothing written: %w", runErr)
			}

			if err := writeFile(outputPath, func(f *os.File) error {
				return sheet.WriteReport(f, pipeline.SortForReport(report.Results))
			}); err != nil {
				return err
			}
			a.logger.Info("report written", "path", outputPath, "rows", len(report.Results))

			report.Summary.Log(a.logger)
			if len(report.Violations) > 0 {
				a.logger.Warn("report has rule violations", "count", len(report.Violations))
			}
			if runErr != nil && len(report.Results) < len(customers.Customers) {
				return fmt.Errorf("run stopped after %d of %d customers: %w", len(report.Results), len(customers.Customers), runErr)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&customersPath, "customers", "", "customer sheet (CSV)")
	cmd.Flags().StringVar(&napsPath, "naps", "", "NAP inventory sheet (CSV)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "clientes_procesados.csv", "report destination")
	cmd.Flags().StringVar(&zone, "zone", "", "zone recorded for customers whose row has none")
	_ = cmd.MarkFlagRequired("customers")
	_ = cmd.MarkFlagRequired("naps")
	return cmd
}

func loadCustomers(path string, filter sheet.StatusFilter, zone string) (sheet.CustomerSheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return sheet.CustomerSheet{}, fmt.Errorf("open customers: %w", err)
	}
	defer f.Close()
	s, err := sheet.LoadCustomers(f, filter, zone)
	if err != nil {
		return sheet.CustomerSheet{}, fmt.Errorf("load customers %s: %w", path, err)
	}
	return s, nil
}
