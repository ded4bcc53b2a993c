package vector

import (
	"context"

	"github.com/rotisserie/eris"
)

// DefaultSeed is the seed used by stages unless configured otherwise.
const DefaultSeed = 42

// Capability is the vectorization and clustering surface the pipeline uses.
type Capability interface {
	FitVectors(ctx context.Context, texts []string, opts Options) (*Model, []Vector, error)
	Transform(m *Model, texts []string) []Vector
	Cluster(ctx context.Context, rows []Vector, dim, k int) (*Clustering, error)
	CosineSimilarity(a, b []Vector) [][]float64
}

// TFIDF implements Capability in process.
type TFIDF struct {
	seed    uint64
	nInit   int
	maxIter int
}

// New returns a TFIDF capability seeded with seed.
func New(seed uint64) *TFIDF {
	return &TFIDF{seed: seed, nInit: 10, maxIter: 100}
}

// FitVectors fits a vocabulary over texts.
func (t *TFIDF) FitVectors(ctx context.Context, texts []string, opts Options) (*Model, []Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "vector: fit")
	}
	return Fit(texts, opts)
}

// Transform vectorizes texts with an already fitted model.
func (t *TFIDF) Transform(m *Model, texts []string) []Vector {
	return m.Transform(texts)
}

// Cluster runs seeded k-means.
func (t *TFIDF) Cluster(ctx context.Context, rows []Vector, dim, k int) (*Clustering, error) {
	return KMeans(ctx, rows, dim, k, KMeansOptions{Seed: t.seed, NInit: t.nInit, MaxIter: t.maxIter})
}

// CosineSimilarity returns the len(a) x len(b) similarity matrix. Zero rows
// score 0 against everything.
func (t *TFIDF) CosineSimilarity(a, b []Vector) [][]float64 {
	return Cosine(a, b)
}

// Cosine is the similarity matrix between two sets of rows.
func Cosine(a, b []Vector) [][]float64 {
	bn := make([]float64, len(b))
	for j, v := range b {
		bn[j] = v.Norm()
	}
	out := make([][]float64, len(a))
	for i, u := range a {
		un := u.Norm()
		row := make([]float64, len(b))
		if un > 0 {
			for j, v := range b {
				if bn[j] > 0 {
					row[j] = u.Dot(v) / (un * bn[j])
				}
			}
		}
		out[i] = row
	}
	return out
}

// TextSimilarity scores a batch of texts against each other by fitting a
// vocabulary over just that batch.
type TextSimilarity struct {
	Cap  Capability
	Opts Options
}

// Pairwise returns the square similarity matrix for texts.
func (s TextSimilarity) Pairwise(ctx context.Context, texts []string) ([][]float64, error) {
	_, rows, err := s.Cap.FitVectors(ctx, texts, s.Opts)
	if err != nil {
		return nil, eris.Wrap(err, "vector: pairwise")
	}
	return s.Cap.CosineSimilarity(rows, rows), nil
}
