// Package pipeline runs the eight knowledge-base stages for one run:
// inventory, raw-text dedup, evidence blocks, concepts, atoms, QA units,
// retrieval eval and the final report.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/config"
	"github.com/sells-group/vet-analytics/internal/extract"
	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/store"
	"github.com/sells-group/vet-analytics/internal/vector"
)

var (
	// ErrRunExists is returned when a run id already has output documents
	// and overwriting was not allowed.
	ErrRunExists = eris.New("pipeline: run id already has outputs")
	// ErrInvalidRange is returned for a step range outside 1..8 or reversed.
	ErrInvalidRange = eris.New("pipeline: invalid step range")
)

// Env is everything a stage may use. The Orchestrator hands each run its
// own copy carrying the prepared options; stages never mutate it.
type Env struct {
	Opts model.RunOptions
	Cfg  config.PipelineConfig
	// Settings is the sanitized configuration recorded in the run report.
	Settings  map[string]any
	Read      store.Store
	Write     store.Store
	Vectors   vector.Capability
	Locales   *locale.Resolver
	Extractor *extract.Extractor
	Artifacts Artifacts
	Now       func() time.Time
}

// createdAt is the timestamp stamped on documents.
func (e *Env) createdAt() string {
	return e.Now().UTC().Format(time.RFC3339Nano)
}

// workers bounds per-concept parallelism.
func (e *Env) workers() int {
	if e.Cfg.Workers > 0 {
		return e.Cfg.Workers
	}
	return 1
}

// State is scratch carried between stages of one invocation.
type State struct {
	// Opts are the prepared options the run used.
	Opts      model.RunOptions
	Inventory []model.InventoryEntry
	Selected  []model.SourceSelection
	Warnings  []string
}

// warn records a warning for the final report.
func (s *State) warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// StageResult is what a stage reports about its own work.
type StageResult struct {
	Metadata map[string]any
}

// Stage is one step of the pipeline.
type Stage interface {
	Index() int
	Name() string
	// Collections lists the output collections the stage writes.
	Collections() []string
	Run(ctx context.Context, env *Env, st *State) (*StageResult, error)
}

// checker is implemented by write stores that can refuse to write.
type checker interface {
	Check() error
}

// Orchestrator runs a range of stages against an Env.
type Orchestrator struct {
	env *Env
	reg *Registry
}

// New creates an Orchestrator. Options are normalized by PrepareOptions
// before the first stage runs.
func New(env *Env, reg *Registry) *Orchestrator {
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.Artifacts == nil {
		env.Artifacts = NewMemoryArtifacts()
	}
	return &Orchestrator{env: env, reg: reg}
}

// PrepareOptions fills defaults and validates the step range. Recomputing
// titles forces step 4 reading and writing the same run.
func PrepareOptions(o model.RunOptions) (model.RunOptions, error) {
	if o.RecomputeTitlesOnly {
		if o.RunID == "" {
			return o, eris.New("pipeline: recompute titles requires an explicit run id")
		}
		o.FromStep, o.ToStep = 4, 4
		o.ActiveRunID = o.RunID
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.ActiveRunID == "" {
		o.ActiveRunID = o.RunID
	}
	if o.FromStep == 0 {
		o.FromStep = model.FirstStep
	}
	if o.ToStep == 0 {
		o.ToStep = model.LastStep
	}
	if o.FromStep < model.FirstStep || o.ToStep > model.LastStep || o.FromStep > o.ToStep {
		return o, eris.Wrapf(ErrInvalidRange, "from %d to %d", o.FromStep, o.ToStep)
	}
	return o, nil
}

// withPipelineDefaults fills unset sizing options from the pipeline config.
// Overlap is left alone since zero is a valid overlap.
func withPipelineDefaults(o model.RunOptions, cfg config.PipelineConfig) model.RunOptions {
	if o.SamplePerCollection <= 0 {
		o.SamplePerCollection = cfg.SamplePerCollection
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = cfg.ChunkSizeChars
	}
	if o.KClusters <= 0 {
		o.KClusters = cfg.KClusters
	}
	if len(o.IncludeLocales) == 0 {
		o.IncludeLocales = cfg.IncludeLocales
	}
	return o
}

// Run executes the selected stages in order. The first failing stage halts
// the run; outputs already written stay in place.
func (o *Orchestrator) Run(ctx context.Context) (*State, error) {
	opts, err := PrepareOptions(o.env.Opts)
	if err != nil {
		return nil, err
	}
	opts = withPipelineDefaults(opts, o.env.Cfg)
	env := *o.env
	env.Opts = opts

	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", opts.RunID),
		zap.String("source_run_id", opts.SourceRunID()),
	)

	if c, ok := env.Write.(checker); ok {
		if err := c.Check(); err != nil {
			return nil, err
		}
	}
	if err := guardOverwrite(ctx, &env); err != nil {
		return nil, err
	}

	stages := o.reg.Select(opts.FromStep, opts.ToStep)
	log.Info("pipeline: starting run",
		zap.Int("from_step", opts.FromStep),
		zap.Int("to_step", opts.ToStep),
		zap.Int("stages", len(stages)),
		zap.Bool("dry_run", opts.DryRun),
	)

	st := &State{Opts: opts}
	for _, s := range stages {
		select {
		case <-ctx.Done():
			return st, eris.Wrap(ctx.Err(), "pipeline: cancelled")
		default:
		}
		if err := runStage(ctx, &env, log, s, st); err != nil {
			return st, eris.Wrapf(err, "pipeline: stage %d %s", s.Index(), s.Name())
		}
	}

	log.Info("pipeline: run complete", zap.Int("warnings", len(st.Warnings)))
	return st, nil
}

// guardOverwrite refuses to reuse a run id that already owns output
// documents.
func guardOverwrite(ctx context.Context, env *Env) error {
	opts := env.Opts
	if opts.AllowOverwriteRun || opts.RecomputeTitlesOnly {
		return nil
	}
	for _, coll := range model.OutputCollections {
		n, err := env.Write.Count(ctx, coll, store.Filter{store.RunIDField: opts.RunID})
		if err != nil {
			return eris.Wrapf(err, "pipeline: check existing outputs in %s", coll)
		}
		if n > 0 {
			return eris.Wrapf(ErrRunExists, "run %s has %d documents in %s", opts.RunID, n, coll)
		}
	}
	return nil
}

// runStage wraps one stage with its run_stages record and lifecycle logs.
func runStage(ctx context.Context, env *Env, log *zap.Logger, s Stage, st *State) error {
	log = log.With(zap.Int("stage_index", s.Index()), zap.String("stage", s.Name()))
	rec := model.StageRecord{
		ID:        model.StageRecordID(env.Opts.RunID, s.Index()),
		RunID:     env.Opts.RunID,
		Index:     s.Index(),
		Name:      s.Name(),
		Status:    model.StageStatusRunning,
		StartedAt: env.Now().UTC(),
	}
	track(ctx, env, log, rec)
	log.Info("pipeline: stage started")

	start := time.Now()
	res, runErr := s.Run(ctx, env, st)
	rec.DurationMs = time.Since(start).Milliseconds()
	if res != nil {
		rec.Metadata = res.Metadata
	}

	if runErr != nil {
		rec.Status = model.StageStatusFailed
		rec.Error = runErr.Error()
		log.Error("pipeline: stage failed",
			zap.Int64("duration_ms", rec.DurationMs),
			zap.Error(runErr),
		)
	} else {
		rec.Status = model.StageStatusComplete
		log.Info("pipeline: stage complete",
			zap.Int64("duration_ms", rec.DurationMs),
			zap.Any("metadata", rec.Metadata),
		)
	}
	track(ctx, env, log, rec)
	return runErr
}

// track writes a stage record. Tracking failures never fail the stage.
func track(ctx context.Context, env *Env, log *zap.Logger, rec model.StageRecord) {
	doc, err := store.ToDoc(rec)
	if err == nil {
		_, err = env.Write.UpsertMany(ctx, model.CollStages, []store.Doc{doc}, "stage_record_id", rec.RunID)
	}
	if err != nil {
		log.Warn("pipeline: failed to record stage", zap.String("status", string(rec.Status)), zap.Error(err))
	}
}
