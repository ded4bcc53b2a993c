package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/extract"
	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/pipeline"
	"github.com/sells-group/vet-analytics/internal/vector"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run pipeline stages for one run id",
	Long: "Runs stages --from-step..--to-step (1 inventory, 2 dedup-raw, 3 evidence-blocks, 4 concepts, " +
		"5 atoms, 6 qa-units, 7 retrieval-eval, 8 final-report). Stages read earlier outputs of --active-run-id " +
		"and write under --run-id.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		// Validate before opening any connection.
		if opts, err = pipeline.PrepareOptions(opts); err != nil {
			return err
		}

		env, closeStores, err := buildEnv(ctx, opts)
		if err != nil {
			return err
		}
		defer closeStores()

		st, err := pipeline.New(env, pipeline.NewRegistry()).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run")
		}
		zap.L().Info("run finished",
			zap.String("run_id", st.Opts.RunID),
			zap.String("reports_dir", cfg.Paths.ReportsDir),
			zap.Int("warnings", len(st.Warnings)),
		)
		for _, w := range st.Warnings {
			zap.L().Warn("run warning", zap.String("warning", w))
		}
		return nil
	},
}

// runOptionsFromFlags maps run flags onto RunOptions. Unset sizing flags
// fall back to the pipeline config.
func runOptionsFromFlags(cmd *cobra.Command) (model.RunOptions, error) {
	f := cmd.Flags()
	var o model.RunOptions
	o.RunID, _ = f.GetString("run-id")
	o.ActiveRunID, _ = f.GetString("active-run-id")
	o.FromStep, _ = f.GetInt("from-step")
	o.ToStep, _ = f.GetInt("to-step")
	o.DryRun, _ = f.GetBool("dry-run")
	o.AllowOverwriteRun, _ = f.GetBool("allow-overwrite-run")
	o.RecomputeTitlesOnly, _ = f.GetBool("recompute-titles-only")
	o.Limit, _ = f.GetInt("limit")

	if o.RecomputeTitlesOnly && o.RunID == "" {
		return o, eris.New("--recompute-titles-only requires --run-id")
	}

	o.SamplePerCollection = cfg.Pipeline.SamplePerCollection
	o.ChunkSize = cfg.Pipeline.ChunkSizeChars
	o.Overlap = cfg.Pipeline.OverlapChars
	o.KClusters = cfg.Pipeline.KClusters
	o.IncludeLocales = cfg.Pipeline.IncludeLocales
	if f.Changed("sample-per-collection") {
		o.SamplePerCollection, _ = f.GetInt("sample-per-collection")
	}
	if f.Changed("chunk-size-chars") {
		o.ChunkSize, _ = f.GetInt("chunk-size-chars")
	}
	if f.Changed("overlap-chars") {
		o.Overlap, _ = f.GetInt("overlap-chars")
	}
	if f.Changed("k-clusters") {
		o.KClusters, _ = f.GetInt("k-clusters")
	}
	if f.Changed("include-locales") {
		raw, _ := f.GetString("include-locales")
		o.IncludeLocales = locale.ParseList(raw)
	}
	if o.ChunkSize <= 0 || o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		return o, eris.Errorf("invalid chunking: size %d, overlap %d", o.ChunkSize, o.Overlap)
	}
	return o, nil
}

// buildEnv opens the stores and loads every capability a run needs.
func buildEnv(ctx context.Context, opts model.RunOptions) (*pipeline.Env, func(), error) {
	stops, err := loadStopwords()
	if err != nil {
		return nil, nil, err
	}

	cues := extract.DefaultCues()
	if path := cfg.Paths.CuesFile; path != "" {
		loaded, err := extract.LoadCues(path)
		if err != nil {
			return nil, nil, err
		}
		cues = loaded
	}

	read, write, closeStores, err := openStores(ctx, opts.DryRun)
	if err != nil {
		return nil, nil, err
	}

	return &pipeline.Env{
		Opts:      opts,
		Cfg:       cfg.Pipeline,
		Settings:  cfg.Sanitized(),
		Read:      read,
		Write:     write,
		Vectors:   vector.New(vector.DefaultSeed),
		Locales:   locale.NewResolver(stops),
		Extractor: extract.New(cues, extract.WithSentenceCap(cfg.Pipeline.SentenceCap)),
		Artifacts: pipeline.NewDirArtifacts(cfg.Paths.ReportsDir),
	}, closeStores, nil
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	f.String("run-id", "", "run id to write under (default: new uuid)")
	f.String("active-run-id", "", "run id whose outputs later stages read (default: --run-id)")
	f.Int("from-step", model.FirstStep, "first stage to run (1-8)")
	f.Int("to-step", model.LastStep, "last stage to run (1-8)")
	f.Bool("dry-run", false, "run every stage but write nothing to the destination store")
	f.Bool("allow-overwrite-run", false, "allow reusing a run id that already has outputs")
	f.Bool("recompute-titles-only", false, "recompute concept titles of --run-id and exit")
	f.Int("limit", 0, "max documents read per source collection (0 = all)")
	f.Int("sample-per-collection", 0, "documents sampled per collection for the inventory (default from config)")
	f.Int("chunk-size-chars", 0, "evidence block size in characters (default from config)")
	f.Int("overlap-chars", 0, "overlap between consecutive blocks (default from config)")
	f.Int("k-clusters", 0, "number of concept clusters (default from config)")
	f.String("include-locales", "", "comma-separated locale prefixes to keep, e.g. ru,pt (default: all)")
}
