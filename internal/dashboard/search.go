package dashboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/retrieval"
	"github.com/sells-group/vet-analytics/internal/store"
	"github.com/sells-group/vet-analytics/internal/vector"
)

// DefaultSearchHits is how many units a search returns.
const DefaultSearchHits = 5

// ErrEmptyQuery is returned for a blank search.
var ErrEmptyQuery = eris.New("dashboard: empty query")

// SearchRequest is one query against a run's QA units.
type SearchRequest struct {
	Query string
	// RunID defaults to the most recent run.
	RunID string
	// Audience keeps only units for that audience when set.
	Audience string
	Limit    int
}

// SearchHit is one ranked unit.
type SearchHit struct {
	Score float64      `json:"score"`
	Unit  model.QAUnit `json:"unit"`
}

// SearchResult carries the ranked units plus a markdown answer built from
// the best one.
type SearchResult struct {
	RunID    string      `json:"run_id"`
	Query    string      `json:"query"`
	Response string      `json:"response"`
	Hits     []SearchHit `json:"hits"`
}

// Search ranks the run's QA units against the query.
func (e *Exporter) Search(ctx context.Context, vc vector.Capability, req SearchRequest) (*SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	runID := req.RunID
	if runID == "" {
		latest, err := e.Reports(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(latest) == 0 {
			return nil, eris.Wrap(ErrRunNotFound, "no runs yet")
		}
		runID = latest[0].RunID
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchHits
	}

	filter := store.Filter{store.RunIDField: runID}
	if req.Audience != "" {
		filter["audience"] = req.Audience
	}
	units, err := store.FindAs[model.QAUnit](ctx, e.store, model.CollQAUnits, filter, store.FindOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "dashboard: load qa units of run %s", runID)
	}

	res := &SearchResult{RunID: runID, Query: query, Hits: []SearchHit{}}
	ix, err := retrieval.Build(ctx, vc, units)
	if eris.Is(err, vector.ErrEmptyCorpus) {
		res.Response = noAnswer
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	for _, h := range ix.Search([]string{query}, limit)[0] {
		if h.Score <= 0 {
			break
		}
		res.Hits = append(res.Hits, SearchHit{Score: h.Score, Unit: units[h.Index]})
	}
	if len(res.Hits) == 0 {
		res.Response = noAnswer
		return res, nil
	}
	res.Response = Answer(res.Hits[0].Unit)
	return res, nil
}

const noAnswer = "Нет данных по запросу"

// Answer renders a unit as markdown.
func Answer(u model.QAUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n%s\n", u.Title, u.Content.Summary)
	list := func(heading string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n### %s\n", heading)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
	}
	list("Что можно сделать сейчас", u.Content.WhatYouCanDoNow)
	list("Тревожные признаки", u.Content.RedFlags)
	if u.Content.WhenToVisitVet != "" {
		fmt.Fprintf(&b, "\n### Когда к ветеринару\n%s\n", u.Content.WhenToVisitVet)
	}
	list("Чего избегать", u.Content.WhatToAvoid)
	if len(u.Content.DiagnosticSteps) > 0 {
		b.WriteString("\n### Диагностика\n")
		for _, s := range u.Content.DiagnosticSteps {
			fmt.Fprintf(&b, "- %s\n", s.Step)
		}
	}
	if u.Content.TriageNotes != "" {
		fmt.Fprintf(&b, "\n%s\n", u.Content.TriageNotes)
	}
	return b.String()
}
