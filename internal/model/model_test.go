package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status StageStatus
		want   string
	}{
		{StageStatusRunning, "running"},
		{StageStatusComplete, "complete"},
		{StageStatusFailed, "failed"},
		{StageStatusSkipped, "skipped"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestRunOptions_SourceRunID(t *testing.T) {
	assert.Equal(t, "r1", RunOptions{RunID: "r1"}.SourceRunID())
	assert.Equal(t, "r0", RunOptions{RunID: "r1", ActiveRunID: "r0"}.SourceRunID())
}

func TestRunOptions_Runs(t *testing.T) {
	o := RunOptions{FromStep: 4, ToStep: 4}
	assert.False(t, o.Runs(3))
	assert.True(t, o.Runs(4))
	assert.False(t, o.Runs(5))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "r1|4", StageRecordID("r1", 4))
	assert.Equal(t, "inv::articles", InventoryID("articles"))
	assert.Equal(t, "eval::r1", EvalID("r1"))
	assert.Equal(t, "run::r1", ReportID("r1"))
}

func TestOutputCollectionsExcludeStageRecords(t *testing.T) {
	assert.NotContains(t, OutputCollections, CollStages)
	assert.Len(t, OutputCollections, 8)
}
