package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vet-analytics/internal/dashboard"
	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
	Long:  "Commands for listing runs and viewing one run's report and stage records.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openWriteStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		reports, err := dashboard.NewExporter(st, locale.DefaultStopwords()).Reports(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(reports) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, reports)
		return nil
	},
}

// -- runs show --

// runDetail is a run report with its stage records.
type runDetail struct {
	Report model.RunReport     `json:"report"`
	Stages []model.StageRecord `json:"stages"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's report and stage records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openWriteStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := dashboard.NewExporter(st, locale.DefaultStopwords()).Report(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		stages, err := store.FindAs[model.StageRecord](ctx, st, model.CollStages,
			store.Filter{store.RunIDField: args[0]}, store.FindOptions{})
		if err != nil {
			return eris.Wrap(err, "runs show: stages")
		}
		sort.Slice(stages, func(i, j int) bool { return stages[i].Index < stages[j].Index })

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Report: rep, Stages: stages})
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of run reports to out.
func formatRunsList(out io.Writer, reports []model.RunReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN_ID\tCREATED\tBLOCKS\tCONCEPTS\tATOMS\tQA_UNITS\tBAD_TITLES\tWARNINGS")
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d/%d\t%d\n",
			r.RunID,
			r.CreatedAt,
			r.Coverage.EvidenceBlocks,
			r.Coverage.Concepts,
			r.Coverage.AtomsTotal,
			r.Coverage.QAUnitsTotal,
			r.Titles.Bad, r.Titles.Total,
			len(r.Warnings),
		)
	}
	_ = w.Flush()
}
