package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/retrieval"
	"github.com/sells-group/vet-analytics/internal/textnorm"
	"github.com/sells-group/vet-analytics/internal/vector"
)

const (
	maxEvalQueries     = 100
	evalTopK           = 5
	maxEvalExamples    = 10
	evalSummaryRunes   = 240
	summaryVocabulary  = 3000
	nearDuplicateScore = 0.9
)

// evalStage measures how well a run's units can be told apart by their own
// questions.
type evalStage struct{}

func (evalStage) Index() int            { return 7 }
func (evalStage) Name() string          { return "retrieval-eval" }
func (evalStage) Collections() []string { return []string{model.CollEval} }

func (s evalStage) Run(ctx context.Context, env *Env, st *State) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "pipeline."+s.Name()))
	source := env.Opts.SourceRunID()

	units, err := loadRun[model.QAUnit](ctx, env, model.CollQAUnits, source)
	if err != nil {
		return nil, err
	}

	report := model.RetrievalEvalReport{
		EvalID:      model.EvalID(env.Opts.RunID),
		RunID:       env.Opts.RunID,
		SourceRunID: source,
		Examples:    []model.EvalExample{},
		CreatedAt:   env.createdAt(),
	}

	ix, err := retrieval.Build(ctx, env.Vectors, units)
	switch {
	case eris.Is(err, vector.ErrEmptyCorpus):
		log.Warn("pipeline: no units to evaluate, writing placeholder", zap.Int("units", len(units)))
		st.warn("retrieval-eval: no searchable units for run " + source)
		report.Placeholder = true
	case err != nil:
		return nil, eris.Wrap(err, "pipeline: retrieval-eval")
	default:
		if err := evaluate(ctx, env, ix, &report); err != nil {
			return nil, err
		}
	}

	if _, err := upsertAll(ctx, env, model.CollEval, "eval_id", []model.RetrievalEvalReport{report}); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteJSON("retrieval_eval", report); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteMarkdown("retrieval_eval", evalMarkdown(report)); err != nil {
		return nil, err
	}

	return &StageResult{Metadata: map[string]any{
		"units":               len(units),
		"queries":             report.QueryCount,
		"avg_top1_similarity": report.AvgTop1Similarity,
		"near_duplicate_rate": report.NearDuplicateRate,
		"almost_identical":    len(report.Examples),
		"placeholder":         report.Placeholder,
	}}, nil
}

// evalQueries collects every unit question and keeps a seeded shuffle of at
// most 100.
func evalQueries(units []model.QAUnit) []string {
	var qs []string
	for _, u := range units {
		qs = append(qs, u.Questions...)
	}
	rng := rand.New(rand.NewPCG(vector.DefaultSeed, vector.DefaultSeed))
	rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	return qs[:min(len(qs), maxEvalQueries)]
}

func evaluate(ctx context.Context, env *Env, ix *retrieval.Index, report *model.RetrievalEvalReport) error {
	units := ix.Units()
	queries := evalQueries(units)
	report.QueryCount = len(queries)
	if len(queries) == 0 {
		return nil
	}

	summaries := vector.TextSimilarity{Cap: env.Vectors, Opts: vector.Options{
		MaxFeatures: summaryVocabulary,
		MinTokenLen: 2,
		MaxNGram:    2,
	}}

	var top1Sum float64
	var scored, nearHits int
	for qi, hits := range ix.Search(queries, evalTopK) {
		if len(hits) == 0 {
			continue
		}
		top1Sum += hits[0].Score
		scored++
		if len(hits) > 1 && hits[1].Score >= nearDuplicateScore {
			nearHits++
		}
		if len(hits) < 2 || len(report.Examples) >= maxEvalExamples {
			continue
		}
		ex, ok, err := nearIdenticalPair(ctx, summaries, queries[qi], hits, units)
		if err != nil {
			return err
		}
		if ok {
			report.Examples = append(report.Examples, ex)
		}
	}
	if scored > 0 {
		report.AvgTop1Similarity = top1Sum / float64(scored)
	}
	report.NearDuplicateRate = float64(nearHits) / float64(len(queries))
	return nil
}

// nearIdenticalPair finds the first pair of top hits whose summaries are
// nearly identical.
func nearIdenticalPair(ctx context.Context, sim vector.TextSimilarity, query string, hits []retrieval.Hit, units []model.QAUnit) (model.EvalExample, bool, error) {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = textnorm.Truncate(units[h.Index].Content.Summary, evalSummaryRunes)
	}
	m, err := sim.Pairwise(ctx, texts)
	if eris.Is(err, vector.ErrEmptyCorpus) {
		return model.EvalExample{}, false, nil
	}
	if err != nil {
		return model.EvalExample{}, false, eris.Wrap(err, "pipeline: retrieval-eval: summary similarity")
	}
	for i := range texts {
		for j := i + 1; j < len(texts); j++ {
			if m[i][j] >= nearDuplicateScore {
				return model.EvalExample{
					Query:             query,
					ConceptID1:        units[hits[i].Index].ConceptID,
					ConceptID2:        units[hits[j].Index].ConceptID,
					Summary1:          texts[i],
					Summary2:          texts[j],
					SummarySimilarity: m[i][j],
				}, true, nil
			}
		}
	}
	return model.EvalExample{}, false, nil
}

func evalMarkdown(r model.RetrievalEvalReport) string {
	return fmt.Sprintf("# Retrieval Eval\n\n"+
		"- queries: %d\n"+
		"- avg top1 similarity: %.4f\n"+
		"- near-duplicate top hits rate: %.2f%%\n"+
		"- almost-identical examples: %d\n",
		r.QueryCount, r.AvgTop1Similarity, r.NearDuplicateRate*100, len(r.Examples))
}
