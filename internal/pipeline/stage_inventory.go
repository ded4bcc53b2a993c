package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/schema"
	"github.com/sells-group/vet-analytics/internal/store"
)

const suspectedDuplicateTitles = 5

// inventoryStage profiles and classifies every source collection.
type inventoryStage struct{}

func (inventoryStage) Index() int            { return 1 }
func (inventoryStage) Name() string          { return "inventory" }
func (inventoryStage) Collections() []string { return []string{model.CollInventory} }

func (s inventoryStage) Run(ctx context.Context, env *Env, st *State) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "pipeline."+s.Name()))

	colls, err := env.Read.Collections(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: inventory: list collections")
	}

	now := env.createdAt()
	var out []model.InventoryEntry
	for _, coll := range colls {
		if ownCollection(coll) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "pipeline: inventory")
		}
		entry, err := inventoryEntry(ctx, env, coll)
		if err != nil {
			return nil, err
		}
		entry.RunID = env.Opts.RunID
		entry.CreatedAt = now
		log.Debug("pipeline: collection profiled",
			zap.String("collection", coll),
			zap.Int64("count", entry.RowCount),
			zap.String("collection_type", entry.CollectionType),
		)
		out = append(out, entry)
	}

	if _, err := upsertAll(ctx, env, model.CollInventory, "inventory_id", out); err != nil {
		return nil, err
	}
	st.Inventory = out
	st.Selected = nil

	if err := env.Artifacts.WriteJSON("inventory", out); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteMarkdown("inventory", inventoryMarkdown(out)); err != nil {
		return nil, err
	}

	types := newCountBy()
	for _, e := range out {
		types.add(e.CollectionType, 1)
	}
	return &StageResult{Metadata: map[string]any{
		"collections":      len(out),
		"collection_types": types.counts,
	}}, nil
}

// ownCollection reports collections the pipeline itself writes, which are
// never inventoried even when source and destination share a database.
func ownCollection(coll string) bool {
	if coll == model.CollStages || strings.HasPrefix(coll, "system.") {
		return true
	}
	for _, c := range model.OutputCollections {
		if c == coll {
			return true
		}
	}
	return false
}

func inventoryEntry(ctx context.Context, env *Env, coll string) (model.InventoryEntry, error) {
	count, err := env.Read.Count(ctx, coll, nil)
	if err != nil {
		return model.InventoryEntry{}, eris.Wrapf(err, "pipeline: inventory: count %s", coll)
	}
	sampleN := min(int64(env.Opts.SamplePerCollection), count)
	if env.Opts.Limit > 0 && sampleN > int64(env.Opts.Limit) {
		sampleN = int64(env.Opts.Limit)
	}

	var samples []store.Doc
	if sampleN > 0 {
		samples, err = env.Read.Find(ctx, coll, nil, store.FindOptions{Limit: int(sampleN)})
		if err != nil {
			return model.InventoryEntry{}, eris.Wrapf(err, "pipeline: inventory: sample %s", coll)
		}
	}

	stats := map[string]any{"stats_available": false}
	if st, ok := env.Read.(store.Stater); ok {
		if raw, err := st.Stats(ctx, coll); err == nil {
			stats = map[string]any{"stats_available": true}
			for k, v := range raw {
				stats[k] = v
			}
		}
	}

	profile := schema.Infer(samples)
	cls := schema.Classify(profile)
	return model.InventoryEntry{
		InventoryID:         model.InventoryID(coll),
		SourceDB:            env.Read.Namespace(),
		Collection:          coll,
		RowCount:            count,
		SampleSize:          len(samples),
		Stats:               stats,
		Profile:             profile,
		CollectionType:      cls.CollectionType,
		Evidence:            cls.Evidence,
		SuspectedDuplicates: duplicateTitles(samples, profile.TitleFields),
	}, nil
}

// duplicateTitles returns the most repeated values of the first title field.
func duplicateTitles(samples []store.Doc, titleFields []string) []model.DuplicateTitle {
	out := []model.DuplicateTitle{}
	if len(titleFields) == 0 {
		return out
	}
	titles := newCountBy()
	for _, d := range samples {
		if t, ok := schema.Lookup(d, titleFields[0]).(string); ok && t != "" {
			titles.add(t, 1)
		}
	}
	for _, t := range titles.mostCommon(suspectedDuplicateTitles) {
		if n := titles.counts[t]; n > 1 {
			out = append(out, model.DuplicateTitle{Title: t, Count: n})
		}
	}
	return out
}

func inventoryMarkdown(inv []model.InventoryEntry) string {
	var b strings.Builder
	b.WriteString("# Inventory Summary\n\n")
	b.WriteString("| collection | count | type | sample |\n|---|---:|---|---:|\n")
	for _, e := range inv {
		fmt.Fprintf(&b, "| %s | %d | %s | %d |\n", e.Collection, e.RowCount, e.CollectionType, e.SampleSize)
	}

	type fieldLen struct {
		path string
		avg  float64
	}
	var fields []fieldLen
	for _, e := range inv {
		for _, f := range e.Profile.ContentFields {
			fields = append(fields, fieldLen{e.Collection + "." + f, e.Profile.Fields[f].AvgLength})
		}
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].avg > fields[j].avg })
	b.WriteString("\n## Top content fields by avg length\n")
	for _, f := range fields[:min(len(fields), 10)] {
		fmt.Fprintf(&b, "- %s: %.1f\n", f.path, f.avg)
	}

	b.WriteString("\n## Language field coverage\n")
	found := false
	for _, e := range inv {
		for _, f := range e.Profile.LanguageFields {
			fmt.Fprintf(&b, "- %s.%s: %.1f%%\n", e.Collection, f, e.Profile.Fields[f].CoveragePct*100)
			found = true
		}
	}
	if !found {
		b.WriteString("- none detected\n")
	}
	return b.String()
}
