package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/usittel/nap-proximity/internal/adapter/sheet"
	"github.com/usittel/nap-proximity/internal/pipeline"
)

func createVerifyCmd(a *app) *cobra.Command {
	var reportPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check a written report against the radius, occupancy and street rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(reportPath)
			if err != nil {
				return fmt.Errorf("open report: %w", err)
			}
			defer f.Close()

			results, err := sheet.ReadReport(f)
			if err != nil {
				return fmt.Errorf("read report %s: %w", reportPath, err)
			}

			violations := pipeline.Verify(results, a.newMatcher())
			out := cmd.OutOrStdout()
			for _, v := range violations {
				fmt.Fprintln(out, v.String())
			}

			matched := 0
			for _, r := range results {
				if r.Matched() {
					matched++
				}
			}
			a.logger.Info("report verified", "path", reportPath, "rows", len(results),
				"matched", matched, "violations", len(violations))
			if len(violations) > 0 {
				return fmt.Errorf("%d of %d rows violate the matching rules", len(violations), len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "clientes_procesados.csv", "report written by run")
	return cmd
}
