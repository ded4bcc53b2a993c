package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// pgPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store on a JSONB documents table.
type PostgresStore struct {
	pool      pgPool
	namespace string
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString, namespace string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	if namespace == "" {
		namespace = pgxCfg.ConnConfig.Database
	}
	return &PostgresStore{pool: pool, namespace: namespace}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	seq        BIGSERIAL PRIMARY KEY,
	collection TEXT NOT NULL,
	doc_id     TEXT NOT NULL,
	doc_key    TEXT NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (collection, doc_key, run_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_run ON documents(collection, run_id);
CREATE INDEX IF NOT EXISTS idx_documents_body ON documents USING GIN (body jsonb_path_ops);
`

const postgresUpsert = `INSERT INTO documents (collection, doc_id, doc_key, run_id, body, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (collection, doc_key, run_id)
DO UPDATE SET body = documents.body || (EXCLUDED.body - '_id'), updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Namespace() string { return s.namespace }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list collections")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan collection")
		}
		out = append(out, name)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list collections iterate")
}

func (s *PostgresStore) Count(ctx context.Context, coll string, f Filter) (int64, error) {
	where, args, err := postgresWhere(coll, f)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count %s", coll)
}

func (s *PostgresStore) Find(ctx context.Context, coll string, f Filter, opts FindOptions) ([]Doc, error) {
	var out []Doc
	err := s.Each(ctx, coll, f, opts, func(d Doc) error {
		out = append(out, d)
		return nil
	})
	return out, err
}

func (s *PostgresStore) Each(ctx context.Context, coll string, f Filter, opts FindOptions, fn func(Doc) error) error {
	where, args, err := postgresWhere(coll, f)
	if err != nil {
		return err
	}
	query := `SELECT body FROM documents WHERE ` + where + ` ORDER BY seq`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $4`
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: find %s", coll)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return eris.Wrap(err, "postgres: scan document")
		}
		var d Doc
		if err := json.Unmarshal(body, &d); err != nil {
			return eris.Wrapf(err, "postgres: unmarshal document in %s", coll)
		}
		if err := fn(project(d, opts.Projection)); err != nil {
			return err
		}
	}
	return eris.Wrapf(rows.Err(), "postgres: find %s iterate", coll)
}

func (s *PostgresStore) UpsertMany(ctx context.Context, coll string, docs []Doc, keyField, runID string) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, d := range docs {
		key, err := upsertKey(d, keyField, runID)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert %s", coll)
		}
		nd := merge(nil, d)
		id := IDString(nd["_id"])
		if id == "" {
			id = uuid.NewString()
			nd["_id"] = id
		}
		body, err := json.Marshal(nd)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal document")
		}
		if _, err := tx.Exec(ctx, postgresUpsert, coll, id, keyField+"|"+key, runID, body, now); err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert %s/%s", coll, key)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert")
	}
	return len(docs), nil
}

func (s *PostgresStore) InsertOne(ctx context.Context, coll string, doc Doc) (string, error) {
	nd := merge(nil, doc)
	id := IDString(nd["_id"])
	if id == "" {
		id = uuid.NewString()
		nd["_id"] = id
	}
	runID, _ := nd[RunIDField].(string)
	body, err := json.Marshal(nd)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal document")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, doc_id, doc_key, run_id, body, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		coll, id, "_id|"+id, runID, body, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert %s", coll)
	}
	return id, nil
}

// postgresWhere always binds three parameters: collection, run id (empty
// matches any) and a JSONB containment document for the other fields.
func postgresWhere(coll string, f Filter) (string, []any, error) {
	runID := ""
	rest := map[string]any{}
	for k, v := range f {
		if rid, ok := v.(string); ok && k == RunIDField {
			runID = rid
			continue
		}
		rest[k] = v
	}
	contains, err := json.Marshal(rest)
	if err != nil {
		return "", nil, eris.Wrap(err, "postgres: marshal filter")
	}
	where := `collection = $1 AND ($2::text = '' OR run_id = $2) AND body @> $3::jsonb`
	return where, []any{coll, runID, contains}, nil
}
