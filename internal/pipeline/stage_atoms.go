package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vet-analytics/internal/dedup"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/vector"
)

const (
	atomVocabulary = 5000
	atomExamples   = 5
)

// atomsStage extracts typed atoms per concept and groups duplicate atoms
// across concepts.
type atomsStage struct{}

func (atomsStage) Index() int   { return 5 }
func (atomsStage) Name() string { return "atoms" }
func (atomsStage) Collections() []string {
	return []string{model.CollAtoms, model.CollDedupGroups}
}

func (s atomsStage) Run(ctx context.Context, env *Env, st *State) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "pipeline."+s.Name()))
	source := env.Opts.SourceRunID()

	concepts, err := loadRun[model.Concept](ctx, env, model.CollConcepts, source)
	if err != nil {
		return nil, err
	}
	blocks, err := blockIndex(ctx, env, source)
	if err != nil {
		return nil, err
	}

	// Each concept writes only its own slot, so the merged order matches the
	// concept order regardless of scheduling.
	slots := make([][]model.Atom, len(concepts))
	now := env.createdAt()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(env.workers())
	for i, c := range concepts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			atoms := env.Extractor.Concept(c.ConceptID, conceptBlocks(c, blocks))
			for j := range atoms {
				atoms[j].RunID = env.Opts.RunID
				atoms[j].SourceRunID = source
				atoms[j].CreatedAt = now
			}
			slots[i] = atoms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: atoms: extract")
	}

	var atoms []model.Atom
	for _, a := range slots {
		atoms = append(atoms, a...)
	}
	if _, err := upsertAll(ctx, env, model.CollAtoms, "atom_id", atoms); err != nil {
		return nil, err
	}

	groups, err := atomGroups(ctx, env, atoms, now)
	if err != nil {
		return nil, err
	}
	if _, err := upsertAll(ctx, env, model.CollDedupGroups, "dedup_id", groups); err != nil {
		return nil, err
	}

	byType := newCountBy()
	examples := make(map[string][]string)
	for _, a := range atoms {
		byType.add(a.AtomType, 1)
		if len(examples[a.AtomType]) < atomExamples {
			examples[a.AtomType] = append(examples[a.AtomType], a.Text)
		}
	}
	summary := map[string]any{
		"atoms_total":   len(atoms),
		"by_type":       byType.counts,
		"dedup_groups":  len(groups),
		"source_run_id": source,
	}
	if err := env.Artifacts.WriteJSON("atoms_summary", summary); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteMarkdown("atoms_summary", atomsMarkdown(byType)); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteMarkdown("atoms_examples", atomExamplesMarkdown(byType.order, examples)); err != nil {
		return nil, err
	}

	log.Debug("pipeline: atoms extracted", zap.Int("concepts", len(concepts)), zap.Int("atoms", len(atoms)))
	return &StageResult{Metadata: map[string]any{
		"concepts":     len(concepts),
		"atoms":        len(atoms),
		"by_type":      byType.counts,
		"dedup_groups": len(groups),
	}}, nil
}

// blockIndex loads a run's evidence blocks keyed by id.
func blockIndex(ctx context.Context, env *Env, runID string) (map[string]model.EvidenceBlock, error) {
	blocks, err := loadRun[model.EvidenceBlock](ctx, env, model.CollBlocks, runID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.EvidenceBlock, len(blocks))
	for _, b := range blocks {
		out[b.BlockID] = b
	}
	return out, nil
}

// conceptBlocks resolves a concept's block ids, falling back to its
// representatives. Unknown ids are skipped.
func conceptBlocks(c model.Concept, blocks map[string]model.EvidenceBlock) []model.EvidenceBlock {
	ids := c.BlockIDs
	if len(ids) == 0 {
		ids = c.RepBlockIDs
	}
	out := make([]model.EvidenceBlock, 0, len(ids))
	for _, id := range ids[:min(len(ids), maxConceptBlocks)] {
		if b, ok := blocks[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// atomGroups builds exact and near duplicate groups per atom type.
func atomGroups(ctx context.Context, env *Env, atoms []model.Atom, now string) ([]model.DedupGroup, error) {
	conceptOf := make(map[string]string, len(atoms))
	byType := make(map[string][]dedup.Item)
	// Exact groups key on the atom's own hash of its full normalized text,
	// not on the stored text, which is truncated.
	exact := make(map[string]*dedup.ExactGrouper)
	for _, a := range atoms {
		conceptOf[a.AtomID] = a.ConceptID
		byType[a.AtomType] = append(byType[a.AtomType], dedup.Item{ID: a.AtomID, Text: a.Text})
		if exact[a.AtomType] == nil {
			exact[a.AtomType] = dedup.NewExactGrouper(a.AtomType)
		}
		exact[a.AtomType].AddHash(a.AtomID, a.NormHash)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	threshold := env.Cfg.NearDupThreshold
	if threshold <= 0 {
		threshold = 0.9
	}
	sim := vector.TextSimilarity{Cap: env.Vectors, Opts: vector.Options{
		Stopwords:   env.Locales.Stopwords().Set(),
		MaxFeatures: atomVocabulary,
		MinTokenLen: 2,
		MaxNGram:    2,
	}}

	toDoc := func(g dedup.Group, prefix string) model.DedupGroup {
		return model.DedupGroup{
			DedupID:        prefix + g.ID,
			RunID:          env.Opts.RunID,
			SourceRunID:    env.Opts.SourceRunID(),
			DedupType:      model.DedupAtom,
			Method:         g.Method,
			GroupID:        g.ID,
			NormHash:       g.Hash,
			Representative: g.Representative,
			Members:        dedup.Cap(g.Members, dedup.MaxMembers),
			Count:          g.Count(),
			AtomType:       g.Type,
			ConceptIDs:     conceptsOf(g.Members, conceptOf),
			CreatedAt:      now,
		}
	}

	var out []model.DedupGroup
	for _, t := range types {
		items := byType[t]
		for _, g := range exact[t].Groups() {
			out = append(out, toDoc(g, "atom_exact::"))
		}
		near, err := dedup.Near(ctx, sim, t, items, threshold)
		if eris.Is(err, vector.ErrEmptyCorpus) {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: atoms: near groups for %s", t)
		}
		for _, g := range near {
			out = append(out, toDoc(g, "atom_near::"))
		}
	}
	return out, nil
}

// conceptsOf lists the distinct concepts of members in member order.
func conceptsOf(members []string, conceptOf map[string]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range members {
		c := conceptOf[m]
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func atomsMarkdown(byType *countBy) string {
	var b strings.Builder
	b.WriteString("# Atoms\n\n")
	for _, t := range byType.order {
		fmt.Fprintf(&b, "- %s: %d\n", t, byType.counts[t])
	}
	return b.String()
}

func atomExamplesMarkdown(types []string, examples map[string][]string) string {
	var b strings.Builder
	b.WriteString("# Atom examples\n\n")
	for _, t := range types {
		fmt.Fprintf(&b, "## %s\n", t)
		for _, ex := range examples[t] {
			fmt.Fprintf(&b, "- %s\n", ex)
		}
		b.WriteString("\n")
	}
	return b.String()
}
