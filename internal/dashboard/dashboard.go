// Package dashboard reads finished runs back out of the write store: the
// static dashboard payload and free-text search over a run's QA units.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/store"
	"github.com/sells-group/vet-analytics/internal/synth"
)

// ErrRunNotFound is returned when a run has no report.
var ErrRunNotFound = eris.New("dashboard: run not found")

const (
	// DefaultLimitRuns is how many recent runs an export covers.
	DefaultLimitRuns = 10
	// DefaultOut is where the export lands.
	DefaultOut = "reports/dashboard_data.json"

	maxBadTitles     = 20
	scannedConcepts  = 300
	qaSampleSize     = 3
	scannedUnits     = 20
	dashboardLocales = "ru,pt,sw"
)

// Counts is the number of documents a run owns per output collection.
type Counts map[string]int64

// QASample is a short preview of one QA unit.
type QASample struct {
	Audience string `json:"audience"`
	Tone     string `json:"tone"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
}

// Run is one run's dashboard entry.
type Run struct {
	RunID              string           `json:"run_id"`
	CreatedAt          string           `json:"created_at"`
	Coverage           model.Coverage   `json:"coverage"`
	Gaps               model.Gaps       `json:"gaps"`
	TitleStats         model.TitleStats `json:"title_stats"`
	Counts             Counts           `json:"counts"`
	LocaleDistribution map[string]int   `json:"locale_distribution"`
	BadTitles          []string         `json:"bad_titles"`
	QAUnitsSample      []QASample       `json:"qa_units_sample"`
}

// Payload is the exported dashboard file.
type Payload struct {
	Runs []Run `json:"runs"`
}

// Exporter builds dashboard data from the write store.
type Exporter struct {
	store store.Store
	stops map[string]struct{}
	log   *zap.Logger
}

// NewExporter reads from s. Bad titles are judged against the stopwords of
// the dashboard locales.
func NewExporter(s store.Store, stops *locale.Stopwords) *Exporter {
	return &Exporter{
		store: s,
		stops: stops.Set(locale.ParseList(dashboardLocales)...),
		log:   zap.L().With(zap.String("component", "dashboard")),
	}
}

// Reports returns the most recent run reports, newest first. limit <= 0
// returns all of them.
func (e *Exporter) Reports(ctx context.Context, limit int) ([]model.RunReport, error) {
	reports, err := store.FindAs[model.RunReport](ctx, e.store, model.CollReports, nil, store.FindOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: load run reports")
	}
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].CreatedAt != reports[j].CreatedAt {
			return reports[i].CreatedAt > reports[j].CreatedAt
		}
		return reports[i].RunID > reports[j].RunID
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

// Report returns the report of one run.
func (e *Exporter) Report(ctx context.Context, runID string) (model.RunReport, error) {
	reports, err := store.FindAs[model.RunReport](ctx, e.store, model.CollReports,
		store.Filter{store.RunIDField: runID}, store.FindOptions{Limit: 1})
	if err != nil {
		return model.RunReport{}, eris.Wrapf(err, "dashboard: load report of run %s", runID)
	}
	if len(reports) == 0 {
		return model.RunReport{}, eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return reports[0], nil
}

// Export collects dashboard entries for the most recent runs.
func (e *Exporter) Export(ctx context.Context, limitRuns int) (*Payload, error) {
	if limitRuns <= 0 {
		limitRuns = DefaultLimitRuns
	}
	reports, err := e.Reports(ctx, limitRuns)
	if err != nil {
		return nil, err
	}
	p := &Payload{Runs: make([]Run, 0, len(reports))}
	for _, r := range reports {
		if r.RunID == "" {
			continue
		}
		run, err := e.Run(ctx, r)
		if err != nil {
			return nil, err
		}
		p.Runs = append(p.Runs, run)
	}
	e.log.Info("dashboard: export built", zap.Int("runs", len(p.Runs)))
	return p, nil
}

// Run builds the dashboard entry for one report.
func (e *Exporter) Run(ctx context.Context, r model.RunReport) (Run, error) {
	out := Run{
		RunID:              r.RunID,
		CreatedAt:          r.CreatedAt,
		Coverage:           r.Coverage,
		Gaps:               r.Gaps,
		TitleStats:         r.Titles,
		Counts:             Counts{},
		LocaleDistribution: map[string]int{},
		BadTitles:          []string{},
		QAUnitsSample:      []QASample{},
	}
	byRun := store.Filter{store.RunIDField: r.RunID}

	for _, coll := range model.OutputCollections {
		n, err := e.store.Count(ctx, coll, byRun)
		if err != nil {
			return Run{}, eris.Wrapf(err, "dashboard: count %s", coll)
		}
		out.Counts[coll] = n
	}

	err := e.store.Each(ctx, model.CollBlocks, byRun, store.FindOptions{Projection: []string{"source_locale"}}, func(d store.Doc) error {
		loc, _ := d["source_locale"].(string)
		if loc = strings.ToLower(loc); loc == "" {
			loc = locale.Undetermined
		}
		out.LocaleDistribution[loc]++
		return nil
	})
	if err != nil {
		return Run{}, eris.Wrap(err, "dashboard: locale distribution")
	}

	concepts, err := e.store.Find(ctx, model.CollConcepts, byRun, store.FindOptions{Projection: []string{"title_guess"}, Limit: scannedConcepts})
	if err != nil {
		return Run{}, eris.Wrap(err, "dashboard: load concept titles")
	}
	for _, d := range concepts {
		title, _ := d["title_guess"].(string)
		if synth.BadTitle(title, e.stops) {
			out.BadTitles = append(out.BadTitles, title)
			if len(out.BadTitles) >= maxBadTitles {
				break
			}
		}
	}

	units, err := store.FindAs[model.QAUnit](ctx, e.store, model.CollQAUnits, byRun, store.FindOptions{
		Projection: []string{"audience", "tone", "title", "content"},
		Limit:      scannedUnits,
	})
	if err != nil {
		return Run{}, eris.Wrap(err, "dashboard: load qa sample")
	}
	for _, u := range units[:min(len(units), qaSampleSize)] {
		out.QAUnitsSample = append(out.QAUnitsSample, QASample{
			Audience: u.Audience,
			Tone:     u.Tone,
			Title:    u.Title,
			Summary:  u.Content.Summary,
		})
	}
	return out, nil
}

// WriteFile writes p as indented JSON, creating parent directories.
func WriteFile(path string, p *Payload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "dashboard: create %s", filepath.Dir(path))
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return eris.Wrap(err, "dashboard: encode payload")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return eris.Wrapf(err, "dashboard: write %s", path)
	}
	return nil
}
