// Package model defines the documents the pipeline persists. Every entity
// is keyed by a content-derived id plus the run that wrote it.
package model

import (
	"github.com/sells-group/vet-analytics/internal/schema"
)

// Atom types emitted by the default cue table. Cue files may add more.
const (
	AtomDiagnosticStep = "diagnostic_step"
	AtomRedFlag        = "red_flag"
	AtomTriageStep     = "triage_step"
	AtomOwnerAction    = "owner_action"
	AtomDifferential   = "differential"
	AtomNoteLimitation = "note_limitation"
)

// Dedup group kinds.
const (
	DedupRawText = "raw_text"
	DedupAtom    = "atom"
)

// Extractors that produce atoms.
const (
	ExtractorCueLine       = "cue_line"
	ExtractorRegexSentence = "regex_sentence"
)

// Title sources for concepts.
const (
	TitleFromKeywords = "keywords"
	TitleFallback     = "fallback"
)

// StatusDraft marks generated rows awaiting review.
const StatusDraft = "draft"

// Audiences and tones of QA units.
const (
	AudienceB2C = "b2c"
	AudienceB2B = "b2b"
	ToneSimple  = "simple"
	TonePro     = "pro"
)

// DuplicateTitle is a title repeated inside an inventory sample.
type DuplicateTitle struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

// InventoryEntry describes one source collection.
type InventoryEntry struct {
	InventoryID         string           `json:"inventory_id"`
	RunID               string           `json:"run_id"`
	SourceDB            string           `json:"source_db"`
	Collection          string           `json:"collection"`
	RowCount            int64            `json:"row_count"`
	SampleSize          int              `json:"sample_size"`
	Stats               map[string]any   `json:"collection_stats,omitempty"`
	Profile             schema.Profile   `json:"schema_profile"`
	CollectionType      string           `json:"collection_type"`
	Evidence            []schema.Trigger `json:"classification_evidence"`
	SuspectedDuplicates []DuplicateTitle `json:"suspected_duplicates"`
	CreatedAt           string           `json:"created_at"`
}

// InventoryID keys an inventory entry.
func InventoryID(collection string) string { return "inv::" + collection }

// SourceSelection is a collection chosen for text extraction together with
// the fields its text is read from, largest first.
type SourceSelection struct {
	Collection    string   `json:"collection"`
	RowCount      int64    `json:"row_count"`
	ContentFields []string `json:"content_fields"`
	TitleFields   []string `json:"title_fields"`
}

// DedupGroup is a persisted duplicate group of raw texts or atoms.
type DedupGroup struct {
	DedupID          string   `json:"dedup_id"`
	RunID            string   `json:"run_id"`
	SourceRunID      string   `json:"source_run_id,omitempty"`
	DedupType        string   `json:"dedup_type"`
	Method           string   `json:"method"`
	GroupID          string   `json:"group_id,omitempty"`
	NormHash         string   `json:"norm_hash,omitempty"`
	Representative   string   `json:"representative_id"`
	Members          []string `json:"members"`
	Count            int      `json:"count"`
	AtomType         string   `json:"atom_type,omitempty"`
	ConceptIDs       []string `json:"concept_ids,omitempty"`
	SourceCollection string   `json:"source_collection,omitempty"`
	Titles           []string `json:"titles,omitempty"`
	SampleSnippet    string   `json:"sample_snippet,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

// EvidenceBlock is one chunk of a source document.
type EvidenceBlock struct {
	BlockID          string `json:"block_id"`
	RunID            string `json:"run_id"`
	SourceCollection string `json:"source_collection"`
	SourceDocID      string `json:"source_doc_id"`
	Title            string `json:"title,omitempty"`
	SourceLocale     string `json:"source_locale"`
	Text             string `json:"text"`
	TextHash         string `json:"text_hash"`
	CharLen          int    `json:"char_len"`
	BlockIndex       int    `json:"block_index"`
	CreatedAt        string `json:"created_at"`
}

// Concept is one cluster of evidence blocks.
type Concept struct {
	ConceptID          string         `json:"concept_id"`
	RunID              string         `json:"run_id"`
	SourceRunID        string         `json:"source_run_id,omitempty"`
	ClusterIndex       int            `json:"cluster_index"`
	TitleGuess         string         `json:"title_guess"`
	TitleSource        string         `json:"title_source"`
	TopKeywords        []string       `json:"top_keywords"`
	RepBlockIDs        []string       `json:"rep_block_ids"`
	BlockIDs           []string       `json:"block_ids"`
	BlockCount         int            `json:"block_count"`
	LocaleDistribution map[string]int `json:"source_locale_distribution"`
	DominantLocale     string         `json:"dominant_locale"`
	CreatedAt          string         `json:"created_at"`
}

// SourceRef points an atom or unit back to the evidence it came from.
type SourceRef struct {
	SourceDocID  string `json:"source_doc_id"`
	BlockID      string `json:"block_id,omitempty"`
	TextHash     string `json:"text_hash,omitempty"`
	Title        string `json:"title,omitempty"`
	SourceLocale string `json:"source_locale"`
}

// Atom is a typed span extracted from a concept's evidence.
type Atom struct {
	AtomID      string      `json:"atom_id"`
	RunID       string      `json:"run_id"`
	SourceRunID string      `json:"source_run_id,omitempty"`
	ConceptID   string      `json:"concept_id"`
	AtomType    string      `json:"atom_type"`
	Text        string      `json:"text"`
	NormHash    string      `json:"norm_hash"`
	Extractor   string      `json:"extractor"`
	SourceRefs  []SourceRef `json:"source_refs"`
	Status      string      `json:"status"`
	CreatedAt   string      `json:"created_at"`
}

// Differential is one entry of a professional differential list.
type Differential struct {
	Name      string `json:"name"`
	Rationale string `json:"rationale"`
	Notes     string `json:"notes"`
}

// DiagnosticStep is one entry of a professional work-up.
type DiagnosticStep struct {
	Step    string `json:"step"`
	Purpose string `json:"purpose"`
	Notes   string `json:"notes"`
}

// Content is the audience-specific body of a QA unit. Consumer units fill
// the owner fields, professional units the clinical ones.
type Content struct {
	Summary         string           `json:"summary"`
	WhatYouCanDoNow []string         `json:"what_you_can_do_now,omitempty"`
	RedFlags        []string         `json:"red_flags"`
	WhenToVisitVet  string           `json:"when_to_visit_vet,omitempty"`
	WhatToAvoid     []string         `json:"what_to_avoid,omitempty"`
	Differentials   []Differential   `json:"differentials,omitempty"`
	DiagnosticSteps []DiagnosticStep `json:"diagnostic_steps,omitempty"`
	TriageNotes     string           `json:"triage_notes,omitempty"`
}

// BuildMeta records how a unit was generated.
type BuildMeta struct {
	RunID      string `json:"run_id"`
	Method     string `json:"method"`
	LocaleRule string `json:"locale_rule"`
	CreatedAt  string `json:"created_at"`
}

// QAUnit is one audience variant of a concept's answer.
type QAUnit struct {
	QAUnitID      string      `json:"qa_unit_id"`
	RunID         string      `json:"run_id"`
	SourceRunID   string      `json:"source_run_id,omitempty"`
	ConceptID     string      `json:"concept_id"`
	OutputLocale  string      `json:"output_locale"`
	Audience      string      `json:"audience"`
	Tone          string      `json:"tone"`
	Title         string      `json:"title"`
	Questions     []string    `json:"questions"`
	Keywords      []string    `json:"keywords"`
	Content       Content     `json:"content"`
	IncludedAtoms []string    `json:"included_atoms"`
	SourceRefs    []SourceRef `json:"source_refs"`
	Status        string      `json:"status"`
	Version       int         `json:"version"`
	BuildHash     string      `json:"build_hash"`
	BuildMeta     BuildMeta   `json:"build_meta"`
}

// EvalExample is a pair of top results whose summaries are nearly
// identical.
type EvalExample struct {
	Query             string  `json:"query"`
	ConceptID1        string  `json:"concept_id_1"`
	ConceptID2        string  `json:"concept_id_2"`
	Summary1          string  `json:"summary1"`
	Summary2          string  `json:"summary2"`
	SummarySimilarity float64 `json:"summary_similarity"`
}

// RetrievalEvalReport measures how distinguishable a run's units are.
type RetrievalEvalReport struct {
	EvalID            string        `json:"eval_id"`
	RunID             string        `json:"run_id"`
	SourceRunID       string        `json:"source_run_id,omitempty"`
	QueryCount        int           `json:"query_count"`
	AvgTop1Similarity float64       `json:"avg_top1_similarity"`
	NearDuplicateRate float64       `json:"near_duplicate_top_hits_rate"`
	Examples          []EvalExample `json:"almost_identical_examples"`
	Placeholder       bool          `json:"placeholder,omitempty"`
	CreatedAt         string        `json:"created_at"`
}

// EvalID keys a retrieval eval report.
func EvalID(runID string) string { return "eval::" + runID }

// Coverage counts a run's outputs.
type Coverage struct {
	SourceCollections          int            `json:"source_collections"`
	EvidenceBlocks             int            `json:"evidence_blocks"`
	EvidenceLocaleDistribution map[string]int `json:"evidence_locale_distribution"`
	Concepts                   int            `json:"concepts"`
	ConceptBlockCountMin       int            `json:"concept_block_count_min"`
	ConceptBlockCountMedian    float64        `json:"concept_block_count_median"`
	ConceptBlockCountMax       int            `json:"concept_block_count_max"`
	AtomsTotal                 int            `json:"atoms_total"`
	AtomsByType                map[string]int `json:"atoms_by_type"`
	AtomDedupGroups            int            `json:"atom_dedup_groups"`
	AtomDedupRate              float64        `json:"atom_dedup_rate"`
	DedupGroupsTotal           int            `json:"dedup_groups_total"`
	QAUnitsTotal               int            `json:"qa_units_total"`
	QAUnitsByVariant           map[string]int `json:"qa_units_by_variant"`
}

// Gaps lists concepts that need attention.
type Gaps struct {
	ZeroRedFlags        []string `json:"concepts_zero_red_flags"`
	ZeroDiagnosticSteps []string `json:"concepts_zero_diagnostic_steps"`
	LowEvidence         []string `json:"concepts_low_evidence"`
	HighDupRatio        []string `json:"concepts_high_dup_ratio"`
}

// TitleStats summarizes concept title quality.
type TitleStats struct {
	Total     int      `json:"total"`
	Fallback  int      `json:"fallback"`
	Bad       int      `json:"bad"`
	BadTitles []string `json:"bad_titles"`
}

// RunReport is the final snapshot of a run.
type RunReport struct {
	ReportID        string               `json:"report_id"`
	RunID           string               `json:"run_id"`
	Config          map[string]any       `json:"configs"`
	Coverage        Coverage             `json:"coverage"`
	Gaps            Gaps                 `json:"gaps"`
	Titles          TitleStats           `json:"title_quality"`
	RetrievalEval   *RetrievalEvalReport `json:"retrieval_eval,omitempty"`
	Recommendations []string             `json:"recommendations"`
	ReportPaths     []string             `json:"report_paths"`
	Warnings        []string             `json:"warnings"`
	CreatedAt       string               `json:"created_at"`
}

// ReportID keys a run report.
func ReportID(runID string) string { return "run::" + runID }
