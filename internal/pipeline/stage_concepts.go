package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/store"
	"github.com/sells-group/vet-analytics/internal/synth"
	"github.com/sells-group/vet-analytics/internal/vector"
)

const (
	conceptKeywords   = 20
	conceptReps       = 5
	maxConceptBlocks  = 200
	conceptVocabulary = 30000
)

// conceptsStage clusters evidence blocks into concepts.
type conceptsStage struct{}

func (conceptsStage) Index() int            { return 4 }
func (conceptsStage) Name() string          { return "concepts" }
func (conceptsStage) Collections() []string { return []string{model.CollConcepts} }

// ConceptID keys a concept by the run its blocks came from and its cluster.
func ConceptID(sourceRunID string, cluster int) string {
	return fmt.Sprintf("cpt_%s_%d", sourceRunID, cluster)
}

func (s conceptsStage) Run(ctx context.Context, env *Env, st *State) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "pipeline."+s.Name()))
	if env.Opts.RecomputeTitlesOnly {
		return s.recomputeTitles(ctx, env)
	}

	blocks, err := loadRun[model.EvidenceBlock](ctx, env, model.CollBlocks, env.Opts.SourceRunID())
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		st.warn("concepts: no evidence blocks for run " + env.Opts.SourceRunID())
		return conceptsPlaceholder(env, "No evidence blocks.")
	}

	texts := make([]string, len(blocks))
	present := newCountBy()
	for i, b := range blocks {
		texts[i] = b.Text
		if b.SourceLocale != "" && b.SourceLocale != locale.Undetermined {
			present.add(locale.Base(b.SourceLocale), 1)
		}
	}
	stops := env.Locales.Stopwords().Set(present.order...)

	vm, rows, err := env.Vectors.FitVectors(ctx, texts, vector.Options{
		Stopwords:   stops,
		MaxFeatures: conceptVocabulary,
		MinTokenLen: 2,
		MaxNGram:    2,
	})
	if eris.Is(err, vector.ErrEmptyCorpus) {
		st.warn("concepts: evidence blocks produced no terms")
		log.Warn("pipeline: empty vocabulary, writing placeholder", zap.Int("blocks", len(blocks)))
		return conceptsPlaceholder(env, "No terms left after stopword removal.")
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: concepts: fit vectors")
	}

	k := max(1, min(env.Opts.KClusters, len(blocks)))
	clustering, err := env.Vectors.Cluster(ctx, rows, vm.Dim(), k)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: concepts: cluster")
	}

	titleStops := env.Locales.Stopwords().Set()
	now := env.createdAt()
	var out []model.Concept
	for ci, idxs := range clustering.Members() {
		if len(idxs) == 0 {
			continue
		}
		keywords := vm.TopTerms(meanWeights(rows, idxs, vm.Dim()), conceptKeywords)

		reps := append([]int(nil), idxs...)
		dist := make(map[int]float64, len(reps))
		for _, i := range reps {
			dist[i] = clustering.Distance(rows[i], ci)
		}
		sort.SliceStable(reps, func(a, b int) bool { return dist[reps[a]] < dist[reps[b]] })

		locs := newCountBy()
		blockIDs := make([]string, 0, min(len(idxs), maxConceptBlocks))
		for _, i := range idxs {
			locs.add(blockLocale(blocks[i]), 1)
			if len(blockIDs) < maxConceptBlocks {
				blockIDs = append(blockIDs, blocks[i].BlockID)
			}
		}
		repIDs := make([]string, 0, conceptReps)
		for _, i := range reps[:min(len(reps), conceptReps)] {
			repIDs = append(repIDs, blocks[i].BlockID)
		}

		dominant := dominantLocale(locs.counts)
		title, source := synth.Title(keywords, titleStops, dominant, ci)
		out = append(out, model.Concept{
			ConceptID:          ConceptID(env.Opts.SourceRunID(), ci),
			RunID:              env.Opts.RunID,
			SourceRunID:        env.Opts.SourceRunID(),
			ClusterIndex:       ci,
			TitleGuess:         title,
			TitleSource:        source,
			TopKeywords:        keywords,
			RepBlockIDs:        repIDs,
			BlockIDs:           blockIDs,
			BlockCount:         len(idxs),
			LocaleDistribution: locs.counts,
			DominantLocale:     dominant,
			CreatedAt:          now,
		})
	}

	if _, err := upsertAll(ctx, env, model.CollConcepts, "concept_id", out); err != nil {
		return nil, err
	}
	if err := writeConceptArtifacts(env, out); err != nil {
		return nil, err
	}

	fallback := 0
	for _, c := range out {
		if c.TitleSource == model.TitleFallback {
			fallback++
		}
	}
	return &StageResult{Metadata: map[string]any{
		"blocks":          len(blocks),
		"k":               k,
		"concepts":        len(out),
		"vocabulary":      vm.Dim(),
		"fallback_titles": fallback,
	}}, nil
}

// recomputeTitles rewrites only the title fields of the run's concepts.
func (s conceptsStage) recomputeTitles(ctx context.Context, env *Env) (*StageResult, error) {
	concepts, err := loadRun[model.Concept](ctx, env, model.CollConcepts, env.Opts.RunID)
	if err != nil {
		return nil, err
	}
	stops := env.Locales.Stopwords().Set()
	docs := make([]store.Doc, 0, len(concepts))
	changed := 0
	for i, c := range concepts {
		title, source := synth.Title(c.TopKeywords, stops, c.DominantLocale, c.ClusterIndex)
		if title != c.TitleGuess {
			changed++
		}
		concepts[i].TitleGuess, concepts[i].TitleSource = title, source
		docs = append(docs, store.Doc{
			"concept_id":   c.ConceptID,
			"title_guess":  title,
			"title_source": source,
		})
	}
	if len(docs) > 0 {
		if _, err := env.Write.UpsertMany(ctx, model.CollConcepts, docs, "concept_id", env.Opts.RunID); err != nil {
			return nil, eris.Wrap(err, "pipeline: concepts: update titles")
		}
	}
	if err := writeConceptArtifacts(env, concepts); err != nil {
		return nil, err
	}
	return &StageResult{Metadata: map[string]any{
		"concepts":       len(concepts),
		"titles_changed": changed,
		"titles_only":    true,
	}}, nil
}

func conceptsPlaceholder(env *Env, reason string) (*StageResult, error) {
	if err := env.Artifacts.WriteJSON("concepts_summary", []model.Concept{}); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteMarkdown("concepts_summary", "# Concepts\n\n"+reason+"\n"); err != nil {
		return nil, err
	}
	return &StageResult{Metadata: map[string]any{"concepts": 0, "placeholder": true}}, nil
}

func writeConceptArtifacts(env *Env, concepts []model.Concept) error {
	if err := env.Artifacts.WriteJSON("concepts_summary", concepts); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("# Concepts\n\n")
	for _, c := range concepts {
		fmt.Fprintf(&b, "- %s (%d blocks): %s\n", c.ConceptID, c.BlockCount, c.TitleGuess)
	}
	return env.Artifacts.WriteMarkdown("concepts_summary", b.String())
}

// meanWeights averages the member rows into a dense vector.
func meanWeights(rows []vector.Vector, idxs []int, dim int) []float64 {
	mean := make([]float64, dim)
	for _, i := range idxs {
		for j, col := range rows[i].Idx {
			mean[col] += rows[i].Val[j]
		}
	}
	for j := range mean {
		mean[j] /= float64(len(idxs))
	}
	return mean
}

func blockLocale(b model.EvidenceBlock) string {
	if b.SourceLocale == "" {
		return locale.Undetermined
	}
	return b.SourceLocale
}

// dominantLocale is the most frequent locale, ties going to the lowest code.
func dominantLocale(dist map[string]int) string {
	best, bestN := locale.Undetermined, 0
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if dist[k] > bestN {
			best, bestN = k, dist[k]
		}
	}
	return best
}
