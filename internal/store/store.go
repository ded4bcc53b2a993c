// Package store is the document persistence layer. Collections hold
// loosely typed JSON documents; writes are idempotent upserts keyed by a
// stable per-row identifier plus the run id.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Doc is one stored document.
type Doc = map[string]any

// Filter selects documents whose top-level fields equal the given values.
type Filter map[string]any

// FindOptions narrows a read.
type FindOptions struct {
	// Projection lists the fields to return. "_id" is always returned.
	// Empty returns whole documents.
	Projection []string
	// Limit caps the number of documents. 0 means no limit.
	Limit int
}

// RunIDField is the field every pipeline document is tagged with.
const RunIDField = "run_id"

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Namespace is the database name writes land in.
	Namespace() string
	Collections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, coll string, f Filter) (int64, error)
	Find(ctx context.Context, coll string, f Filter, opts FindOptions) ([]Doc, error)
	// Each streams matching documents in storage order until fn returns an
	// error.
	Each(ctx context.Context, coll string, f Filter, opts FindOptions, fn func(Doc) error) error
	// UpsertMany sets every doc's fields on the document matching
	// {keyField: doc[keyField], run_id: runID}, inserting when absent.
	// Fields not present in doc are left untouched.
	UpsertMany(ctx context.Context, coll string, docs []Doc, keyField, runID string) (int, error)
	InsertOne(ctx context.Context, coll string, doc Doc) (string, error)
	Close() error
}

// ToDoc converts a tagged struct into a Doc through its JSON form.
func ToDoc(v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal doc")
	}
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal doc")
	}
	return d, nil
}

// ToDocs converts a slice of tagged structs.
func ToDocs[T any](items []T) ([]Doc, error) {
	out := make([]Doc, 0, len(items))
	for _, it := range items {
		d, err := ToDoc(it)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Decode fills out from a Doc through its JSON form.
func Decode(d Doc, out any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "store: marshal doc")
	}
	return eris.Wrap(json.Unmarshal(b, out), "store: decode doc")
}

// DecodeAll decodes every doc into a T.
func DecodeAll[T any](docs []Doc) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := Decode(d, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FindAs reads matching documents and decodes them into T.
func FindAs[T any](ctx context.Context, s Store, coll string, f Filter, opts FindOptions) ([]T, error) {
	docs, err := s.Find(ctx, coll, f, opts)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](docs)
}

// IDString renders a document id as a string.
func IDString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		b, err := json.Marshal(id)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}

// matches reports whether every filter field equals the document's value.
// Numbers compare by value regardless of their Go type.
func matches(d Doc, f Filter) bool {
	for k, want := range f {
		got, ok := d[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// project keeps only the listed top-level fields (dotted paths keep their
// first segment) plus "_id".
func project(d Doc, fields []string) Doc {
	if len(fields) == 0 {
		return d
	}
	out := Doc{}
	if id, ok := d["_id"]; ok {
		out["_id"] = id
	}
	for _, f := range fields {
		top, _, _ := strings.Cut(f, ".")
		if v, ok := d[top]; ok {
			out[top] = v
		}
	}
	return out
}

// merge applies patch's top-level fields onto base.
func merge(base, patch Doc) Doc {
	out := make(Doc, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// upsertKey validates a doc for UpsertMany and returns its key, tagging the
// doc with runID.
func upsertKey(d Doc, keyField, runID string) (string, error) {
	key, ok := d[keyField].(string)
	if !ok || key == "" {
		return "", eris.Errorf("store: document missing string key %q", keyField)
	}
	d[RunIDField] = runID
	return key, nil
}

func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stater is implemented by backends that report collection statistics.
type Stater interface {
	Stats(ctx context.Context, coll string) (Doc, error)
}

// Migrator is implemented by backends that need their schema created.
type Migrator interface {
	Migrate(ctx context.Context) error
}
