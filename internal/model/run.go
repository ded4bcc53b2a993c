package model

import (
	"strconv"
	"time"
)

// Output collections written by the pipeline.
const (
	CollInventory   = "inv_inventory"
	CollDedupGroups = "dedup_groups"
	CollBlocks      = "evidence_blocks"
	CollConcepts    = "kb_concepts"
	CollAtoms       = "kb_atoms"
	CollQAUnits     = "qa_units"
	CollEval        = "qa_eval"
	CollReports     = "run_reports"
	CollStages      = "run_stages"
)

// OutputCollections lists every collection a run writes fingerprinted
// documents to. A run id that has documents in any of them is taken.
var OutputCollections = []string{
	CollInventory, CollDedupGroups, CollBlocks, CollConcepts,
	CollAtoms, CollQAUnits, CollEval, CollReports,
}

// Stage bounds.
const (
	FirstStep = 1
	LastStep  = 8
)

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// RunOptions controls one orchestrator invocation.
type RunOptions struct {
	RunID string `json:"run_id"`
	// ActiveRunID is the run whose outputs are read. Empty means RunID.
	ActiveRunID         string   `json:"active_run_id,omitempty"`
	FromStep            int      `json:"from_step"`
	ToStep              int      `json:"to_step"`
	DryRun              bool     `json:"dry_run"`
	AllowOverwriteRun   bool     `json:"allow_overwrite_run"`
	RecomputeTitlesOnly bool     `json:"recompute_titles_only"`
	Limit               int      `json:"limit,omitempty"`
	SamplePerCollection int      `json:"sample_per_collection"`
	ChunkSize           int      `json:"chunk_size_chars"`
	Overlap             int      `json:"overlap_chars"`
	KClusters           int      `json:"k_clusters"`
	IncludeLocales      []string `json:"include_locales,omitempty"`
}

// SourceRunID is the run stages read prior outputs from.
func (o RunOptions) SourceRunID() string {
	if o.ActiveRunID != "" {
		return o.ActiveRunID
	}
	return o.RunID
}

// Runs reports whether step falls inside the requested range.
func (o RunOptions) Runs(step int) bool {
	return step >= o.FromStep && step <= o.ToStep
}

// StageRecord tracks one stage execution. It is time-varying and not
// fingerprinted.
type StageRecord struct {
	ID         string         `json:"stage_record_id"`
	RunID      string         `json:"run_id"`
	Index      int            `json:"stage_index"`
	Name       string         `json:"stage"`
	Status     StageStatus    `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// StageRecordID keys a stage record by run and index.
func StageRecordID(runID string, index int) string {
	return runID + "|" + strconv.Itoa(index)
}
