package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vet-analytics/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Dashboard data over finished runs",
}

var dashboardExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export static dashboard data as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openWriteStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stops, err := loadStopwords()
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("limit-runs")
		payload, err := dashboard.NewExporter(st, stops).Export(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "dashboard export")
		}
		if err := dashboard.WriteFile(out, payload); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d runs to %s\n", len(payload.Runs), out)
		return nil
	},
}

func init() {
	dashboardExportCmd.Flags().String("out", dashboard.DefaultOut, "output JSON file")
	dashboardExportCmd.Flags().Int("limit-runs", dashboard.DefaultLimitRuns, "number of most recent runs to export")

	dashboardCmd.AddCommand(dashboardExportCmd)
	rootCmd.AddCommand(dashboardCmd)
}
