package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from JobStatus
		to   JobStatus
		ok   bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusPending, JobStatusFailed, false},
		{JobStatusPending, JobStatusStuck, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusCancelled, true},
		{JobStatusProcessing, JobStatusStuck, true},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusStuck, JobStatusProcessing, true},
		{JobStatusStuck, JobStatusFailed, true},
		{JobStatusStuck, JobStatusCancelled, true},
		{JobStatusStuck, JobStatusCompleted, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusCancelled, false},
		{JobStatusCancelled, JobStatusProcessing, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.False(t, JobStatusStuck.Terminal())
}

func TestJobStatusUnmarshalText(t *testing.T) {
	var s JobStatus
	require.NoError(t, s.UnmarshalText([]byte(" Processing ")))
	assert.Equal(t, JobStatusProcessing, s)

	err := s.UnmarshalText([]byte("limbo"))
	assert.Error(t, err)
}

func TestSubmitJobRequestValidate(t *testing.T) {
	valid := func() SubmitJobRequest {
		return SubmitJobRequest{
			TenantID: "t-1",
			FileName: "import.xlsx",
			FileSize: 1024,
			FileHash: "abc123",
			Sheets: []SheetInfo{
				{Name: "Contracts", SheetType: "contracts", TotalRows: 10},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		r := valid()
		require.NoError(t, r.Validate())
	})

	t.Run("missing file name", func(t *testing.T) {
		r := valid()
		r.FileName = "  "
		assert.Error(t, r.Validate())
	})

	t.Run("missing hash", func(t *testing.T) {
		r := valid()
		r.FileHash = ""
		assert.Error(t, r.Validate())
	})

	t.Run("negative sheet rows", func(t *testing.T) {
		r := valid()
		r.Sheets[0].TotalRows = -1
		assert.Error(t, r.Validate())
	})
}

func TestProgressSnapshotComputePercent(t *testing.T) {
	t.Run("halfway", func(t *testing.T) {
		p := ProgressSnapshot{TotalRows: 200, ProcessedRows: 100, Status: JobStatusProcessing}
		p.ComputePercent()
		assert.InDelta(t, 50.0, p.PercentComplete, 0.001)
	})

	t.Run("zero rows terminal", func(t *testing.T) {
		p := ProgressSnapshot{TotalRows: 0, Status: JobStatusCompleted}
		p.ComputePercent()
		assert.Equal(t, 100.0, p.PercentComplete)
	})

	t.Run("zero rows running", func(t *testing.T) {
		p := ProgressSnapshot{TotalRows: 0, Status: JobStatusProcessing}
		p.ComputePercent()
		assert.Equal(t, 0.0, p.PercentComplete)
	})
}

func TestProgressSnapshotEstimateRemaining(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(10 * time.Second)

	t.Run("linear extrapolation", func(t *testing.T) {
		p := ProgressSnapshot{TotalRows: 300, ProcessedRows: 100, Status: JobStatusProcessing}
		p.EstimateRemaining(&start, now)
		require.NotNil(t, p.EstimatedSeconds)
		// 100 rows in 10s leaves 200 rows at 10 rows/s.
		assert.Equal(t, int64(20), *p.EstimatedSeconds)
	})

	t.Run("no start time", func(t *testing.T) {
		p := ProgressSnapshot{TotalRows: 300, ProcessedRows: 100, Status: JobStatusProcessing}
		p.EstimateRemaining(nil, now)
		assert.Nil(t, p.EstimatedSeconds)
	})

	t.Run("terminal", func(t *testing.T) {
		p := ProgressSnapshot{TotalRows: 300, ProcessedRows: 300, Status: JobStatusCompleted}
		p.EstimateRemaining(&start, now)
		assert.Nil(t, p.EstimatedSeconds)
	})
}
