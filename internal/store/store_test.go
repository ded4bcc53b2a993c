package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath, "vet_analytics")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// backends runs the same contract against every embedded backend.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemory("vet_analytics"),
		"sqlite": newTestSQLiteStore(t),
	}
}

func TestStore_UpsertIsIdempotentPerRun(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			docs := []Doc{
				{"concept_id": "c1", "title_guess": "fever, cough", "block_count": 3.0},
				{"concept_id": "c2", "title_guess": "itching", "block_count": 1.0},
			}
			n, err := st.UpsertMany(ctx, "kb_concepts", docs, "concept_id", "run-a")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// Same keys again: updated in place, no duplicates.
			_, err = st.UpsertMany(ctx, "kb_concepts", []Doc{{"concept_id": "c1", "title_guess": "fever"}}, "concept_id", "run-a")
			require.NoError(t, err)

			// Same key under another run is a separate document.
			_, err = st.UpsertMany(ctx, "kb_concepts", []Doc{{"concept_id": "c1", "title_guess": "other"}}, "concept_id", "run-b")
			require.NoError(t, err)

			count, err := st.Count(ctx, "kb_concepts", Filter{"run_id": "run-a"})
			require.NoError(t, err)
			assert.EqualValues(t, 2, count)

			got, err := st.Find(ctx, "kb_concepts", Filter{"run_id": "run-a", "concept_id": "c1"}, FindOptions{})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "fever", got[0]["title_guess"])
			assert.EqualValues(t, 3, got[0]["block_count"], "fields absent from the patch are kept")
			assert.NotEmpty(t, got[0]["_id"])

			all, err := st.Count(ctx, "kb_concepts", nil)
			require.NoError(t, err)
			assert.EqualValues(t, 3, all)
		})
	}
}

func TestStore_FindOrderLimitProjection(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, title := range []string{"a", "b", "c"} {
				_, err := st.InsertOne(ctx, "articles", Doc{"title": title, "body": "text " + title, "meta": Doc{"lang": "ru"}})
				require.NoError(t, err)
			}

			got, err := st.Find(ctx, "articles", nil, FindOptions{Limit: 2, Projection: []string{"title", "meta.lang"}})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0]["title"])
			assert.Equal(t, "b", got[1]["title"])
			assert.NotContains(t, got[0], "body")
			assert.Contains(t, got[0], "meta")
			assert.Contains(t, got[0], "_id")

			var seen []string
			err = st.Each(ctx, "articles", Filter{"title": "c"}, FindOptions{}, func(d Doc) error {
				seen = append(seen, d["title"].(string))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, seen)

			stop := eris.New("stop")
			err = st.Each(ctx, "articles", nil, FindOptions{}, func(Doc) error { return stop })
			assert.True(t, eris.Is(err, stop))

			colls, err := st.Collections(ctx)
			require.NoError(t, err)
			assert.Contains(t, colls, "articles")
		})
	}
}

func TestStore_InsertOneKeepsID(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, err := st.InsertOne(context.Background(), "run_reports", Doc{"_id": "fixed", "x": 1.0})
			require.NoError(t, err)
			assert.Equal(t, "fixed", id)
		})
	}
}

func TestStore_UpsertRequiresKey(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.UpsertMany(context.Background(), "kb_atoms", []Doc{{"text": "no key"}}, "atom_id", "r")
			require.Error(t, err)
		})
	}
}

func TestStore_FilterBoolAndNumber(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := st.UpsertMany(ctx, "qa_units", []Doc{
				{"qa_unit_id": "u1", "published": true, "version": 1.0},
				{"qa_unit_id": "u2", "published": false, "version": 2.0},
			}, "qa_unit_id", "r")
			require.NoError(t, err)

			n, err := st.Count(ctx, "qa_units", Filter{"published": true})
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			n, err = st.Count(ctx, "qa_units", Filter{"version": 2})
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
		})
	}
}

type conceptRow struct {
	ConceptID string   `json:"concept_id"`
	Keywords  []string `json:"top_keywords"`
}

func TestToDocAndFindAs(t *testing.T) {
	ctx := context.Background()
	st := NewMemory("vet_analytics")

	docs, err := ToDocs([]conceptRow{{ConceptID: "c1", Keywords: []string{"fever"}}})
	require.NoError(t, err)
	_, err = st.UpsertMany(ctx, "kb_concepts", docs, "concept_id", "r1")
	require.NoError(t, err)

	rows, err := FindAs[conceptRow](ctx, st, "kb_concepts", Filter{"run_id": "r1"}, FindOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"fever"}, rows[0].Keywords)
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "", IDString(nil))
	assert.Equal(t, "abc", IDString("abc"))
	assert.Equal(t, "42", IDString(42))
}
