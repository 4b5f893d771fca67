package model

import "time"

// SheetProgress is the per-sheet slice of a progress snapshot.
type SheetProgress struct {
	SheetName     string      `json:"sheet_name"`
	SheetType     string      `json:"sheet_type"`
	Status        SheetStatus `json:"status"`
	TotalRows     int64       `json:"total_rows"`
	ProcessedRows int64       `json:"processed_rows"`
	SuccessRows   int64       `json:"success_rows"`
	ErrorRows     int64       `json:"error_rows"`
}

// ProgressSnapshot is a point-in-time view of a job suitable for clients.
// Snapshots are derived from the durable counters and cached briefly, so a
// snapshot may trail the true counters by up to the cache TTL.
type ProgressSnapshot struct {
	JobID            string          `json:"job_id"`
	Status           JobStatus       `json:"status"`
	TotalRows        int64           `json:"total_rows"`
	ProcessedRows    int64           `json:"processed_rows"`
	SuccessRows      int64           `json:"success_rows"`
	ErrorRows        int64           `json:"error_rows"`
	PercentComplete  float64         `json:"percent_complete"`
	Sheets           []SheetProgress `json:"sheets"`
	EstimatedSeconds *int64          `json:"estimated_seconds_remaining,omitempty"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// Terminal reports whether the snapshot describes a finished job.
func (p *ProgressSnapshot) Terminal() bool {
	return p.Status.Terminal()
}

// ComputePercent fills PercentComplete from the row counters.
func (p *ProgressSnapshot) ComputePercent() {
	if p.TotalRows <= 0 {
		if p.Status.Terminal() {
			p.PercentComplete = 100
		}
		return
	}
	p.PercentComplete = float64(p.ProcessedRows) / float64(p.TotalRows) * 100
	if p.PercentComplete > 100 {
		p.PercentComplete = 100
	}
}

// EstimateRemaining derives an ETA from elapsed processing time and the row
// counters. It sets EstimatedSeconds only when enough rows have been
// processed to make the extrapolation meaningful.
func (p *ProgressSnapshot) EstimateRemaining(startedAt *time.Time, now time.Time) {
	if startedAt == nil || p.Status.Terminal() || p.TotalRows <= 0 || p.ProcessedRows <= 0 {
		return
	}
	elapsed := now.Sub(*startedAt)
	if elapsed <= 0 {
		return
	}
	rate := float64(p.ProcessedRows) / elapsed.Seconds()
	if rate <= 0 {
		return
	}
	remaining := int64(float64(p.TotalRows-p.ProcessedRows) / rate)
	if remaining < 0 {
		remaining = 0
	}
	p.EstimatedSeconds = &remaining
}
