// Package retrieval ranks QA units against free-text queries with TF-IDF
// cosine similarity. The retrieval eval stage and the search endpoint share
// it.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/vector"
)

// MaxFeatures is the vocabulary size of a unit index.
const MaxFeatures = 10000

// Hit is one ranked unit.
type Hit struct {
	Index int
	Score float64
}

// Index is a fitted vocabulary over a set of units.
type Index struct {
	units []model.QAUnit
	cap   vector.Capability
	model *vector.Model
	rows  []vector.Vector
}

// Document is the searchable text of a unit: title, questions and keywords.
func Document(u model.QAUnit) string {
	return strings.Join([]string{u.Title, strings.Join(u.Questions, " "), strings.Join(u.Keywords, " ")}, " ")
}

// Build fits an index over units. It returns vector.ErrEmptyCorpus when the
// units carry no searchable terms.
func Build(ctx context.Context, vc vector.Capability, units []model.QAUnit) (*Index, error) {
	docs := make([]string, len(units))
	for i, u := range units {
		docs[i] = Document(u)
	}
	m, rows, err := vc.FitVectors(ctx, docs, vector.Options{MaxFeatures: MaxFeatures, MinTokenLen: 2, MaxNGram: 2})
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: build index")
	}
	return &Index{units: units, cap: vc, model: m, rows: rows}, nil
}

// Units returns the indexed units.
func (ix *Index) Units() []model.QAUnit { return ix.units }

// Search scores every query against every unit and returns the top k hits
// per query, best first, ties by unit order.
func (ix *Index) Search(queries []string, k int) [][]Hit {
	sims := ix.cap.CosineSimilarity(ix.cap.Transform(ix.model, queries), ix.rows)
	out := make([][]Hit, len(queries))
	for qi, row := range sims {
		hits := make([]Hit, len(row))
		for j, s := range row {
			hits[j] = Hit{Index: j, Score: s}
		}
		sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
		out[qi] = hits[:min(len(hits), k)]
	}
	return out
}
