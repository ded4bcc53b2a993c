package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/vet-analytics/internal/extract"
	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/textnorm"
)

var cuesCmd = &cobra.Command{
	Use:   "cues",
	Short: "Inspect the atom extraction cue table",
}

var cuesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a cue file and show which atom types a sample line matches",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Paths.CuesFile
		if len(args) == 1 {
			path = args[0]
		}
		cues := extract.DefaultCues()
		if path != "" {
			loaded, err := extract.LoadCues(path)
			if err != nil {
				return err
			}
			cues = loaded
		}

		formatCueTypes(os.Stdout, cues)

		if line, _ := cmd.Flags().GetString("line"); line != "" {
			fmt.Fprintf(os.Stdout, "\n%q matches: %v\n", line, cues.Match(textnorm.Normalize(line)))
		}
		return nil
	},
}

func init() {
	cuesCheckCmd.Flags().String("line", "", "sample line to match against the cues")
	cuesCmd.AddCommand(cuesCheckCmd)
	rootCmd.AddCommand(cuesCmd)
}

// formatCueTypes lists the atom types of a cue table.
func formatCueTypes(out io.Writer, cues *extract.CueTable) {
	patterns := make(map[string]bool)
	for _, t := range cues.PatternTypes() {
		patterns[t] = true
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ATOM_TYPE\tSENTENCE_PATTERN")
	for _, t := range cues.Types() {
		_, _ = fmt.Fprintf(w, "%s\t%v\n", t, patterns[t])
	}
	_ = w.Flush()
}

// loadStopwords returns the configured stopword lists, or the built-in
// ones when no directory is configured.
func loadStopwords() (*locale.Stopwords, error) {
	if cfg.Paths.StopwordsDir == "" {
		return locale.DefaultStopwords(), nil
	}
	return locale.LoadStopwords(cfg.Paths.StopwordsDir)
}
