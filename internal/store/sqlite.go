package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. Every collection
// lives in one documents table with the body stored as JSON text.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, namespace: namespace}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	doc_id     TEXT NOT NULL,
	doc_key    TEXT NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (collection, doc_key, run_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_run ON documents(collection, run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Namespace() string { return s.namespace }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list collections")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan collection")
		}
		out = append(out, name)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list collections iterate")
}

func (s *SQLiteStore) Count(ctx context.Context, coll string, f Filter) (int64, error) {
	where, args := sqliteWhere(coll, f)
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count %s", coll)
}

func (s *SQLiteStore) Find(ctx context.Context, coll string, f Filter, opts FindOptions) ([]Doc, error) {
	var out []Doc
	err := s.Each(ctx, coll, f, opts, func(d Doc) error {
		out = append(out, d)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) Each(ctx context.Context, coll string, f Filter, opts FindOptions, fn func(Doc) error) error {
	where, args := sqliteWhere(coll, f)
	query := `SELECT body FROM documents WHERE ` + where + ` ORDER BY seq`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: find %s", coll)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return eris.Wrap(err, "sqlite: scan document")
		}
		var d Doc
		if err := json.Unmarshal([]byte(body), &d); err != nil {
			return eris.Wrapf(err, "sqlite: unmarshal document in %s", coll)
		}
		if err := fn(project(d, opts.Projection)); err != nil {
			return err
		}
	}
	return eris.Wrapf(rows.Err(), "sqlite: find %s iterate", coll)
}

func (s *SQLiteStore) UpsertMany(ctx context.Context, coll string, docs []Doc, keyField, runID string) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, d := range docs {
		key, err := upsertKey(d, keyField, runID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert %s", coll)
		}
		docKey := keyField + "|" + key

		var existing string
		err = tx.QueryRowContext(ctx,
			`SELECT body FROM documents WHERE collection = ? AND doc_key = ? AND run_id = ?`,
			coll, docKey, runID,
		).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			nd := merge(nil, d)
			id := IDString(nd["_id"])
			if id == "" {
				id = uuid.NewString()
				nd["_id"] = id
			}
			body, err := json.Marshal(nd)
			if err != nil {
				return 0, eris.Wrap(err, "sqlite: marshal document")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (collection, doc_id, doc_key, run_id, body, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
				coll, id, docKey, runID, string(body), now,
			); err != nil {
				return 0, eris.Wrapf(err, "sqlite: insert %s/%s", coll, key)
			}
		case err != nil:
			return 0, eris.Wrapf(err, "sqlite: load %s/%s", coll, key)
		default:
			var base Doc
			if err := json.Unmarshal([]byte(existing), &base); err != nil {
				return 0, eris.Wrapf(err, "sqlite: unmarshal %s/%s", coll, key)
			}
			body, err := json.Marshal(merge(base, d))
			if err != nil {
				return 0, eris.Wrap(err, "sqlite: marshal document")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND doc_key = ? AND run_id = ?`,
				string(body), now, coll, docKey, runID,
			); err != nil {
				return 0, eris.Wrapf(err, "sqlite: update %s/%s", coll, key)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return len(docs), nil
}

func (s *SQLiteStore) InsertOne(ctx context.Context, coll string, doc Doc) (string, error) {
	nd := merge(nil, doc)
	id := IDString(nd["_id"])
	if id == "" {
		id = uuid.NewString()
		nd["_id"] = id
	}
	runID, _ := nd[RunIDField].(string)
	body, err := json.Marshal(nd)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal document")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, doc_id, doc_key, run_id, body, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		coll, id, "_id|"+id, runID, string(body), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert %s", coll)
	}
	return id, nil
}

// sqliteWhere builds the WHERE clause for a collection filter. run_id uses
// its indexed column; other fields go through json_extract.
func sqliteWhere(coll string, f Filter) (string, []any) {
	clauses := []string{"collection = ?"}
	args := []any{coll}
	for _, k := range sortedFilterKeys(f) {
		v := f[k]
		if k == RunIDField {
			if rid, ok := v.(string); ok {
				clauses = append(clauses, "run_id = ?")
				args = append(args, rid)
				continue
			}
		}
		if b, ok := v.(bool); ok {
			if b {
				v = 1
			} else {
				v = 0
			}
		}
		clauses = append(clauses, "json_extract(body, ?) = ?")
		args = append(args, `$."`+k+`"`, v)
	}
	return strings.Join(clauses, " AND "), args
}

func sortedFilterKeys(f Filter) []string {
	set := make(map[string]struct{}, len(f))
	for k := range f {
		set[k] = struct{}{}
	}
	return sortedNames(set)
}
