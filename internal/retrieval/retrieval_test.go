package retrieval

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/vector"
)

func units() []model.QAUnit {
	return []model.QAUnit{
		{QAUnitID: "u1", Title: "рвота, диарея", Questions: []string{"рвота у собаки: что делать?"}, Keywords: []string{"рвота"}},
		{QAUnitID: "u2", Title: "зуд, дерматит", Questions: []string{"зуд у кошки: что делать?"}, Keywords: []string{"зуд"}},
		{QAUnitID: "u3", Title: "кашель, одышка", Questions: []string{"кашель у собаки"}, Keywords: []string{"кашель"}},
	}
}

func TestDocument(t *testing.T) {
	assert.Equal(t, "рвота, диарея рвота у собаки: что делать? рвота", Document(units()[0]))
}

func TestSearch(t *testing.T) {
	ix, err := Build(context.Background(), vector.New(vector.DefaultSeed), units())
	require.NoError(t, err)
	assert.Len(t, ix.Units(), 3)

	hits := ix.Search([]string{"зуд кошки", "кашель"}, 2)
	require.Len(t, hits, 2)
	require.Len(t, hits[0], 2)
	assert.Equal(t, 1, hits[0][0].Index)
	assert.Greater(t, hits[0][0].Score, hits[0][1].Score)
	assert.Equal(t, 2, hits[1][0].Index)
}

func TestSearch_UnknownTermsScoreZero(t *testing.T) {
	ix, err := Build(context.Background(), vector.New(vector.DefaultSeed), units())
	require.NoError(t, err)
	hits := ix.Search([]string{"xyzzy"}, 5)
	require.Len(t, hits[0], 3)
	for i, h := range hits[0] {
		assert.Zero(t, h.Score)
		assert.Equal(t, i, h.Index, "ties keep unit order")
	}
}

func TestBuild_Empty(t *testing.T) {
	_, err := Build(context.Background(), vector.New(vector.DefaultSeed), nil)
	assert.True(t, eris.Is(err, vector.ErrEmptyCorpus))
}
