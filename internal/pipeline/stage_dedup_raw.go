package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/dedup"
	"github.com/sells-group/vet-analytics/internal/fingerprint"
	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/store"
	"github.com/sells-group/vet-analytics/internal/textnorm"
)

const (
	maxGroupTitles  = 50
	snippetRunes    = 300
	reportTopGroups = 20
)

// dedupRawStage groups selected source documents whose normalized text is
// identical.
type dedupRawStage struct{}

func (dedupRawStage) Index() int            { return 2 }
func (dedupRawStage) Name() string          { return "dedup-raw" }
func (dedupRawStage) Collections() []string { return []string{model.CollDedupGroups} }

func (s dedupRawStage) Run(ctx context.Context, env *Env, st *State) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "pipeline."+s.Name()))
	if err := ensureSelection(ctx, env, st); err != nil {
		return nil, err
	}

	grouper := dedup.NewExactGrouper(model.DedupRawText)
	extra := make(map[string]*rawGroupInfo)
	var docs, skipped int
	for _, sel := range st.Selected {
		field := contentField(sel)
		err := env.Read.Each(ctx, sel.Collection, nil, sourceFindOptions(env, field), func(doc store.Doc) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, ok := docText(doc, field)
			if !ok {
				skipped++
				log.Debug("pipeline: document without text skipped",
					zap.String("collection", sel.Collection),
					zap.String("doc_id", store.IDString(doc["_id"])),
				)
				return nil
			}
			if len(env.Opts.IncludeLocales) > 0 &&
				!locale.MatchesAny(env.Locales.Resolve(doc, raw), env.Opts.IncludeLocales) {
				return nil
			}
			docs++

			norm := textnorm.Normalize(raw)
			h := fingerprint.Text(norm)
			if grouper.AddHash(store.IDString(doc["_id"]), h) {
				extra[h] = &rawGroupInfo{snippet: textnorm.Truncate(norm, snippetRunes)}
			}
			info := extra[h]
			info.collection = sel.Collection
			if t := docTitle(doc); t != "" && len(info.titles) < maxGroupTitles {
				info.titles = append(info.titles, t)
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: dedup-raw: scan %s", sel.Collection)
		}
	}

	out := rawDedupGroups(grouper.Groups(), extra, env.Opts.RunID, env.createdAt())
	multi := 0
	for _, g := range out {
		if g.Count > 1 {
			multi++
		}
	}

	if _, err := upsertAll(ctx, env, model.CollDedupGroups, "dedup_id", out); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteJSON("dedup_raw_text", out); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteMarkdown("dedup_raw_text", dedupRawMarkdown(out)); err != nil {
		return nil, err
	}

	sources := make([]string, len(st.Selected))
	for i, sel := range st.Selected {
		sources[i] = sel.Collection
	}
	return &StageResult{Metadata: map[string]any{
		"selected_sources": sources,
		"documents":        docs,
		"skipped":          skipped,
		"groups":           len(out),
		"duplicate_groups": multi,
	}}, nil
}

// rawGroupInfo carries the per-group fields the grouper does not track.
type rawGroupInfo struct {
	snippet    string
	collection string
	titles     []string
}

// rawDedupGroups maps exact groups to persisted raw-text groups.
func rawDedupGroups(groups []dedup.Group, extra map[string]*rawGroupInfo, runID, now string) []model.DedupGroup {
	out := make([]model.DedupGroup, 0, len(groups))
	for _, g := range groups {
		info := extra[g.Hash]
		if info == nil {
			info = &rawGroupInfo{}
		}
		titles := info.titles
		if titles == nil {
			titles = []string{}
		}
		out = append(out, model.DedupGroup{
			DedupID:          "raw::" + g.Hash,
			RunID:            runID,
			DedupType:        model.DedupRawText,
			Method:           g.Method,
			GroupID:          g.ID,
			NormHash:         g.Hash,
			Representative:   g.Representative,
			Members:          dedup.Cap(g.Members, dedup.MaxMembers),
			Count:            g.Count(),
			SourceCollection: info.collection,
			Titles:           dedup.Cap(titles, maxGroupTitles),
			SampleSnippet:    info.snippet,
			CreatedAt:        now,
		})
	}
	return out
}

func dedupRawMarkdown(groups []model.DedupGroup) string {
	sorted := append([]model.DedupGroup(nil), groups...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })

	var b strings.Builder
	fmt.Fprintf(&b, "# Raw Text Dedup\n\ngroups: %d\n\nTop duplicates:\n", len(groups))
	for _, g := range sorted[:min(len(sorted), reportTopGroups)] {
		fmt.Fprintf(&b, "- %s... count=%d collection=%s\n", g.NormHash[:min(len(g.NormHash), 10)], g.Count, g.SourceCollection)
	}
	return b.String()
}
