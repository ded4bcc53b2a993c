package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, namespace: "vet_analytics"}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertMany(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(collection, doc_key, run_id\)`).
		WithArgs("kb_concepts", pgxmock.AnyArg(), "concept_id|c1", "run-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("kb_concepts", pgxmock.AnyArg(), "concept_id|c2", "run-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	docs := []Doc{{"concept_id": "c1"}, {"concept_id": "c2"}}
	n, err := s.UpsertMany(context.Background(), "kb_concepts", docs, "concept_id", "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "run-1", docs[0]["run_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertMany_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := s.UpsertMany(context.Background(), "kb_atoms", []Doc{{"atom_id": "a"}}, "atom_id", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: upsert kb_atoms/a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Find(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := mock.NewRows([]string{"body"}).
		AddRow([]byte(`{"_id":"1","concept_id":"c1","title_guess":"fever","run_id":"r"}`)).
		AddRow([]byte(`{"_id":"2","concept_id":"c2","title_guess":"cough","run_id":"r"}`))
	mock.ExpectQuery(`SELECT body FROM documents WHERE collection = \$1 .* ORDER BY seq LIMIT \$4`).
		WithArgs("kb_concepts", "r", []byte(`{}`), 2).
		WillReturnRows(rows)

	got, err := s.Find(context.Background(), "kb_concepts", Filter{"run_id": "r"}, FindOptions{Limit: 2, Projection: []string{"title_guess"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Doc{"_id": "1", "title_guess": "fever"}, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents`).
		WithArgs("kb_atoms", "", []byte(`{"atom_type":"red_flag"}`)).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := s.Count(context.Background(), "kb_atoms", Filter{"atom_type": "red_flag"})
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Collections(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT DISTINCT collection FROM documents`).
		WillReturnRows(mock.NewRows([]string{"collection"}).AddRow("evidence_blocks").AddRow("kb_concepts"))

	got, err := s.Collections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"evidence_blocks", "kb_concepts"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertOne(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("run_reports", "rep-1", "_id|rep-1", "r", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.InsertOne(context.Background(), "run_reports", Doc{"_id": "rep-1", "run_id": "r"})
	require.NoError(t, err)
	assert.Equal(t, "rep-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
