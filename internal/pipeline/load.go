package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/schema"
	"github.com/sells-group/vet-analytics/internal/store"
)

// upsertAll writes items into coll keyed by keyField, tagged with the
// current run.
func upsertAll[T any](ctx context.Context, env *Env, coll, keyField string, items []T) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	docs, err := store.ToDocs(items)
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: encode %s", coll)
	}
	n, err := env.Write.UpsertMany(ctx, coll, docs, keyField, env.Opts.RunID)
	if err != nil {
		return n, eris.Wrapf(err, "pipeline: upsert %s", coll)
	}
	return n, nil
}

// loadRun reads every document of runID from one output collection.
func loadRun[T any](ctx context.Context, env *Env, coll, runID string) ([]T, error) {
	out, err := store.FindAs[T](ctx, env.Write, coll, store.Filter{store.RunIDField: runID}, store.FindOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load %s of run %s", coll, runID)
	}
	return out, nil
}

// ensureInventory reloads the source run's inventory when this invocation
// did not produce one.
func ensureInventory(ctx context.Context, env *Env, st *State) error {
	if len(st.Inventory) > 0 {
		return nil
	}
	inv, err := loadRun[model.InventoryEntry](ctx, env, model.CollInventory, env.Opts.SourceRunID())
	if err != nil {
		return err
	}
	sort.Slice(inv, func(i, j int) bool { return inv[i].Collection < inv[j].Collection })
	st.Inventory = inv
	return nil
}

// ensureSelection picks the text sources from the inventory.
func ensureSelection(ctx context.Context, env *Env, st *State) error {
	if len(st.Selected) > 0 {
		return nil
	}
	if err := ensureInventory(ctx, env, st); err != nil {
		return err
	}
	st.Selected = selectSources(st.Inventory, env.Cfg.MaxSources)
	if len(st.Selected) == 0 {
		st.warn("no raw_text or mixed collection with content fields was found")
	}
	return nil
}

// selectSources keeps raw_text and mixed collections that have content
// fields, largest first, at most limit of them.
func selectSources(inv []model.InventoryEntry, limit int) []model.SourceSelection {
	var out []model.SourceSelection
	for _, e := range inv {
		if !schema.IsTextSource(e.CollectionType) || len(e.Profile.ContentFields) == 0 {
			continue
		}
		out = append(out, model.SourceSelection{
			Collection:    e.Collection,
			RowCount:      e.RowCount,
			ContentFields: e.Profile.ContentFields,
			TitleFields:   e.Profile.TitleFields,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RowCount > out[j].RowCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// contentField is the field a selected source's text is read from.
func contentField(sel model.SourceSelection) string {
	return sel.ContentFields[0]
}

// sourceProjection lists the fields stages read from a source document.
func sourceProjection(field string) []string {
	return []string{field, "title", "name", "language", "lang", "locale", "source_locale", "output_locale", "locale_tag"}
}

// docTitle is the first string title or name of a document.
func docTitle(doc store.Doc) string {
	for _, f := range []string{"title", "name"} {
		if s, ok := doc[f].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// docText returns the document's non-blank text at field.
func docText(doc store.Doc, field string) (string, bool) {
	s, ok := schema.Lookup(doc, field).(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// sourceFindOptions applies the run's document limit.
func sourceFindOptions(env *Env, field string) store.FindOptions {
	return store.FindOptions{Projection: sourceProjection(field), Limit: env.Opts.Limit}
}

// countBy tallies keys in first-seen order.
type countBy struct {
	order  []string
	counts map[string]int
}

func newCountBy() *countBy { return &countBy{counts: make(map[string]int)} }

func (c *countBy) add(k string, n int) {
	if _, ok := c.counts[k]; !ok {
		c.order = append(c.order, k)
	}
	c.counts[k] += n
}

// mostCommon returns up to n keys by descending count, first-seen order on
// ties.
func (c *countBy) mostCommon(n int) []string {
	keys := append([]string(nil), c.order...)
	sort.SliceStable(keys, func(i, j int) bool { return c.counts[keys[i]] > c.counts[keys[j]] })
	if n >= 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
