package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/synth"
)

const (
	lowEvidenceBlocks = 5
	maxBadTitles      = 20
	variantB2C        = "b2c_simple"
	variantB2B        = "b2b_pro"
)

// highDupRatio is the share of a concept's atoms that must sit in
// multi-member duplicate groups for the concept to be flagged.
const highDupRatio = 0.5

// Recommendations closes every final report.
var Recommendations = []string{
	"Добавить RU лемматизацию для улучшения кластеризации.",
	"Добавить более глубокий парсинг структурированных полей.",
	"Рассмотреть embeddings-подход на следующей итерации.",
}

// stageReports are the markdown reports listed in the final report, in
// stage order.
var stageReports = []string{
	"inventory.md",
	"dedup_raw_text.md",
	"evidence_blocks.md",
	"concepts_summary.md",
	"atoms_summary.md",
	"qa_units_summary.md",
	"retrieval_eval.md",
	"final_report.md",
}

// reportStage snapshots the run's coverage, gaps and quality numbers.
type reportStage struct{}

func (reportStage) Index() int            { return 8 }
func (reportStage) Name() string          { return "final-report" }
func (reportStage) Collections() []string { return []string{model.CollReports} }

// runData is every output of one run.
type runData struct {
	inventory []model.InventoryEntry
	blocks    []model.EvidenceBlock
	concepts  []model.Concept
	atoms     []model.Atom
	units     []model.QAUnit
	groups    []model.DedupGroup
	eval      []model.RetrievalEvalReport
}

func loadRunData(ctx context.Context, env *Env, runID string) (*runData, error) {
	var d runData
	var err error
	if d.inventory, err = loadRun[model.InventoryEntry](ctx, env, model.CollInventory, runID); err != nil {
		return nil, err
	}
	if d.blocks, err = loadRun[model.EvidenceBlock](ctx, env, model.CollBlocks, runID); err != nil {
		return nil, err
	}
	if d.concepts, err = loadRun[model.Concept](ctx, env, model.CollConcepts, runID); err != nil {
		return nil, err
	}
	if d.atoms, err = loadRun[model.Atom](ctx, env, model.CollAtoms, runID); err != nil {
		return nil, err
	}
	if d.units, err = loadRun[model.QAUnit](ctx, env, model.CollQAUnits, runID); err != nil {
		return nil, err
	}
	if d.groups, err = loadRun[model.DedupGroup](ctx, env, model.CollDedupGroups, runID); err != nil {
		return nil, err
	}
	if d.eval, err = loadRun[model.RetrievalEvalReport](ctx, env, model.CollEval, runID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s reportStage) Run(ctx context.Context, env *Env, st *State) (*StageResult, error) {
	runID := env.Opts.RunID
	d, err := loadRunData(ctx, env, runID)
	if err != nil {
		return nil, err
	}

	stops := env.Locales.Stopwords().Set()
	report := model.RunReport{
		ReportID:        model.ReportID(runID),
		RunID:           runID,
		Config:          reportConfig(env),
		Coverage:        coverage(d),
		Gaps:            gaps(d),
		Titles:          titleStats(d.concepts, stops),
		Recommendations: Recommendations,
		ReportPaths:     make([]string, 0, len(stageReports)),
		Warnings:        append([]string{}, st.Warnings...),
		CreatedAt:       env.createdAt(),
	}
	if len(d.eval) > 0 {
		report.RetrievalEval = &d.eval[0]
	}
	for _, f := range stageReports {
		report.ReportPaths = append(report.ReportPaths, env.Artifacts.Path(f))
	}

	if _, err := upsertAll(ctx, env, model.CollReports, "report_id", []model.RunReport{report}); err != nil {
		return nil, err
	}
	if err := writeReportArtifacts(env, report); err != nil {
		return nil, err
	}

	return &StageResult{Metadata: map[string]any{
		"concepts":   report.Coverage.Concepts,
		"atoms":      report.Coverage.AtomsTotal,
		"qa_units":   report.Coverage.QAUnitsTotal,
		"bad_titles": report.Titles.Bad,
		"warnings":   len(report.Warnings),
	}}, nil
}

// reportConfig is the sanitized configuration plus the run options.
func reportConfig(env *Env) map[string]any {
	out := make(map[string]any, len(env.Settings)+1)
	for k, v := range env.Settings {
		out[k] = v
	}
	out["run"] = env.Opts
	return out
}

func coverage(d *runData) model.Coverage {
	c := model.Coverage{
		SourceCollections:          len(d.inventory),
		EvidenceBlocks:             len(d.blocks),
		EvidenceLocaleDistribution: map[string]int{},
		Concepts:                   len(d.concepts),
		AtomsTotal:                 len(d.atoms),
		AtomsByType:                map[string]int{},
		DedupGroupsTotal:           len(d.groups),
		QAUnitsTotal:               len(d.units),
		QAUnitsByVariant:           map[string]int{variantB2C: 0, variantB2B: 0},
	}
	for _, b := range d.blocks {
		c.EvidenceLocaleDistribution[blockLocale(b)]++
	}

	counts := make([]int, 0, len(d.concepts))
	for _, cpt := range d.concepts {
		counts = append(counts, cpt.BlockCount)
	}
	if len(counts) == 0 {
		counts = []int{0}
	}
	sort.Ints(counts)
	c.ConceptBlockCountMin = counts[0]
	c.ConceptBlockCountMax = counts[len(counts)-1]
	c.ConceptBlockCountMedian = medianInts(counts)

	for _, a := range d.atoms {
		c.AtomsByType[a.AtomType]++
	}
	for _, g := range d.groups {
		if g.DedupType == model.DedupAtom {
			c.AtomDedupGroups++
		}
	}
	c.AtomDedupRate = float64(c.AtomDedupGroups) / float64(max(len(d.atoms), 1))

	for _, u := range d.units {
		switch {
		case u.Audience == model.AudienceB2C && u.Tone == model.ToneSimple:
			c.QAUnitsByVariant[variantB2C]++
		case u.Audience == model.AudienceB2B && u.Tone == model.TonePro:
			c.QAUnitsByVariant[variantB2B]++
		}
	}
	return c
}

func medianInts(sorted []int) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// gaps flags concepts missing key atom types, thin on evidence, or made
// mostly of atoms duplicated in other concepts.
func gaps(d *runData) model.Gaps {
	g := model.Gaps{
		ZeroRedFlags:        []string{},
		ZeroDiagnosticSteps: []string{},
		LowEvidence:         []string{},
		HighDupRatio:        []string{},
	}

	types := make(map[string]map[string]int)
	atomConcept := make(map[string]string, len(d.atoms))
	for _, a := range d.atoms {
		if types[a.ConceptID] == nil {
			types[a.ConceptID] = make(map[string]int)
		}
		types[a.ConceptID][a.AtomType]++
		atomConcept[a.AtomID] = a.ConceptID
	}

	dupAtoms := make(map[string]struct{})
	for _, grp := range d.groups {
		if grp.DedupType != model.DedupAtom || grp.Count < 2 {
			continue
		}
		for _, m := range grp.Members {
			dupAtoms[m] = struct{}{}
		}
	}
	dupByConcept := make(map[string]int)
	for id := range dupAtoms {
		if c, ok := atomConcept[id]; ok {
			dupByConcept[c]++
		}
	}

	for _, c := range d.concepts {
		t := types[c.ConceptID]
		if t[model.AtomRedFlag] == 0 {
			g.ZeroRedFlags = append(g.ZeroRedFlags, c.ConceptID)
		}
		if t[model.AtomDiagnosticStep] == 0 {
			g.ZeroDiagnosticSteps = append(g.ZeroDiagnosticSteps, c.ConceptID)
		}
		if c.BlockCount < lowEvidenceBlocks {
			g.LowEvidence = append(g.LowEvidence, c.ConceptID)
		}
		total := 0
		for _, n := range t {
			total += n
		}
		if total > 0 && float64(dupByConcept[c.ConceptID])/float64(total) >= highDupRatio {
			g.HighDupRatio = append(g.HighDupRatio, c.ConceptID)
		}
	}
	return g
}

func titleStats(concepts []model.Concept, stops map[string]struct{}) model.TitleStats {
	ts := model.TitleStats{Total: len(concepts), BadTitles: []string{}}
	for _, c := range concepts {
		if c.TitleSource == model.TitleFallback {
			ts.Fallback++
		}
		if synth.BadTitle(c.TitleGuess, stops) {
			ts.Bad++
			if len(ts.BadTitles) < maxBadTitles {
				ts.BadTitles = append(ts.BadTitles, c.TitleGuess)
			}
		}
	}
	return ts
}

func writeReportArtifacts(env *Env, r model.RunReport) error {
	c := r.Coverage
	if err := env.Artifacts.WriteJSON("coverage", c); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("# Coverage\n\n")
	fmt.Fprintf(&b, "- source_collections: %d\n", c.SourceCollections)
	fmt.Fprintf(&b, "- evidence_blocks: %d\n", c.EvidenceBlocks)
	fmt.Fprintf(&b, "- evidence_locale_distribution: %v\n", c.EvidenceLocaleDistribution)
	fmt.Fprintf(&b, "- concepts: %d\n", c.Concepts)
	fmt.Fprintf(&b, "- concept_block_count_min: %d\n", c.ConceptBlockCountMin)
	fmt.Fprintf(&b, "- concept_block_count_median: %g\n", c.ConceptBlockCountMedian)
	fmt.Fprintf(&b, "- concept_block_count_max: %d\n", c.ConceptBlockCountMax)
	fmt.Fprintf(&b, "- atoms_total: %d\n", c.AtomsTotal)
	fmt.Fprintf(&b, "- atom_dedup_groups: %d\n", c.AtomDedupGroups)
	fmt.Fprintf(&b, "- atom_dedup_rate: %.4f\n", c.AtomDedupRate)
	fmt.Fprintf(&b, "- dedup_groups_total: %d\n", c.DedupGroupsTotal)
	fmt.Fprintf(&b, "- qa_units_total: %d\n", c.QAUnitsTotal)
	fmt.Fprintf(&b, "- qa_units_by_variant: %v\n", c.QAUnitsByVariant)
	if err := env.Artifacts.WriteMarkdown("coverage", b.String()); err != nil {
		return err
	}

	if err := env.Artifacts.WriteJSON("gaps", r.Gaps); err != nil {
		return err
	}
	gm := fmt.Sprintf("# Gaps\n\n"+
		"- concepts_zero_red_flags: %d\n"+
		"- concepts_zero_diagnostic_steps: %d\n"+
		"- concepts_low_evidence: %d\n"+
		"- concepts_high_dup_ratio: %d\n",
		len(r.Gaps.ZeroRedFlags), len(r.Gaps.ZeroDiagnosticSteps), len(r.Gaps.LowEvidence), len(r.Gaps.HighDupRatio))
	if err := env.Artifacts.WriteMarkdown("gaps", gm); err != nil {
		return err
	}

	if err := env.Artifacts.WriteJSON("final_report", r); err != nil {
		return err
	}
	fm := fmt.Sprintf("# Final report\n\n"+
		"- run_id: %s\n"+
		"- collections inventoried: %d\n"+
		"- evidence blocks: %d\n"+
		"- concepts: %d\n"+
		"- atoms: %d\n"+
		"- qa units: %d\n"+
		"- bad titles: %d of %d\n",
		r.RunID, c.SourceCollections, c.EvidenceBlocks, c.Concepts, c.AtomsTotal, c.QAUnitsTotal, r.Titles.Bad, r.Titles.Total)
	return env.Artifacts.WriteMarkdown("final_report", fm)
}
