package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/synth"
)

const qaSampleSize = 10

// qaUnitsStage synthesizes the two audience variants of every concept.
type qaUnitsStage struct{}

func (qaUnitsStage) Index() int            { return 6 }
func (qaUnitsStage) Name() string          { return "qa-units" }
func (qaUnitsStage) Collections() []string { return []string{model.CollQAUnits} }

func (s qaUnitsStage) Run(ctx context.Context, env *Env, st *State) (*StageResult, error) {
	source := env.Opts.SourceRunID()

	concepts, err := loadRun[model.Concept](ctx, env, model.CollConcepts, source)
	if err != nil {
		return nil, err
	}
	atoms, err := loadRun[model.Atom](ctx, env, model.CollAtoms, source)
	if err != nil {
		return nil, err
	}
	blocks, err := blockIndex(ctx, env, source)
	if err != nil {
		return nil, err
	}
	byConcept := make(map[string][]model.Atom)
	for _, a := range atoms {
		byConcept[a.ConceptID] = append(byConcept[a.ConceptID], a)
	}

	builder := synth.Builder{RunID: env.Opts.RunID, SourceRunID: source, CreatedAt: env.createdAt()}
	slots := make([][]model.QAUnit, len(concepts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(env.workers())
	for i, c := range concepts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var rep string
			if len(c.RepBlockIDs) > 0 {
				rep = blocks[c.RepBlockIDs[0]].Text
			}
			slots[i] = builder.Build(synth.Input{Concept: c, Atoms: byConcept[c.ConceptID], RepText: rep})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: qa-units: build")
	}

	var units []model.QAUnit
	for _, u := range slots {
		units = append(units, u...)
	}
	if _, err := upsertAll(ctx, env, model.CollQAUnits, "qa_unit_id", units); err != nil {
		return nil, err
	}

	locales := newCountBy()
	for _, u := range units {
		locales.add(u.OutputLocale, 1)
	}
	if err := env.Artifacts.WriteMarkdown("qa_units_summary", fmt.Sprintf("# QA Units\n\nTotal: %d\n", len(units))); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteJSON("qa_units_sample", append([]model.QAUnit{}, units[:min(len(units), qaSampleSize)]...)); err != nil {
		return nil, err
	}
	return &StageResult{Metadata: map[string]any{
		"concepts":       len(concepts),
		"atoms":          len(atoms),
		"units":          len(units),
		"output_locales": locales.counts,
	}}, nil
}
