// Package model defines the core data types for the spreadsheet migration system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a migration job.
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be claimed by a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a worker has claimed the job and is importing rows.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the job finished; it may still carry row-level errors.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job hit an unrecoverable condition.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled cooperatively.
	JobStatusCancelled JobStatus = "cancelled"
	// JobStatusStuck indicates the watchdog saw no heartbeat within the grace window.
	JobStatusStuck JobStatus = "stuck"
)

var (
	// ErrInvalidTransition is returned when a status change is not on a legal edge.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrJobNotRunning is returned when a heartbeat targets a job that is not processing.
	ErrJobNotRunning = errors.New("job is not processing")
	// ErrNoJobsAvailable is returned when no pending jobs are available to claim.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrDuplicateFile is returned when an identical file already has a non-terminal job.
	ErrDuplicateFile = errors.New("identical file already in flight")
)

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled, JobStatusStuck:
		return true
	}
	return false
}

// Terminal returns true for the three final states. Terminal jobs are never
// mutated again; repeating the same terminal transition is a no-op, moving
// between two different terminal states is an error.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether next is a legal edge from s.
//
// pending    -> processing | cancelled
// processing -> completed | failed | cancelled | stuck
// stuck      -> processing | failed | cancelled
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusCancelled
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed ||
			next == JobStatusCancelled || next == JobStatusStuck
	case JobStatusStuck:
		return next == JobStatusProcessing || next == JobStatusFailed ||
			next == JobStatusCancelled
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus to allow env parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", v)
	}
	*s = v
	return nil
}

// MigrationJob represents one uploaded workbook and its durable import state.
// Status, timestamps, and heartbeat are mutated only through the job
// repository's transition functions; no other component writes them.
type MigrationJob struct {
	ID              string     `json:"id"                         db:"id"`
	TenantID        string     `json:"tenant_id"                  db:"tenant_id"`
	FileName        string     `json:"file_name"                  db:"file_name"`
	FileSize        int64      `json:"file_size"                  db:"file_size"`
	FileHash        string     `json:"file_hash"                  db:"file_hash"`
	TotalSheets     int        `json:"total_sheets"               db:"total_sheets"`
	Status          JobStatus  `json:"status"                     db:"status"`
	ErrorMessage    *string    `json:"error_message,omitempty"    db:"error_message"`
	ErrorDetail     *string    `json:"error_detail,omitempty"     db:"error_detail"`
	CancelRequested bool       `json:"cancel_requested"           db:"cancel_requested"`
	CancelReason    *string    `json:"cancel_reason,omitempty"    db:"cancel_reason"`
	StartedAt       *time.Time `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"     db:"completed_at"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"   db:"last_heartbeat"`
	CreatedAt       time.Time  `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"                 db:"updated_at"`
}

// SubmitJobRequest represents a request to register an uploaded workbook.
type SubmitJobRequest struct {
	TenantID string      `json:"tenant_id"`
	FileName string      `json:"file_name"`
	FileSize int64       `json:"file_size"`
	FileHash string      `json:"file_hash"`
	Sheets   []SheetInfo `json:"sheets"`
}

// SheetInfo carries the pre-scanned metadata of one sheet in the workbook.
type SheetInfo struct {
	Name      string `json:"name"`
	SheetType string `json:"sheet_type"`
	TotalRows int64  `json:"total_rows"`
}

// Validate validates the SubmitJobRequest fields.
func (r *SubmitJobRequest) Validate() error {
	if strings.TrimSpace(r.FileName) == "" {
		return errors.New("file name is required")
	}
	if strings.TrimSpace(r.FileHash) == "" {
		return errors.New("file hash is required")
	}
	if r.FileSize < 0 {
		return errors.New("file size must be >= 0")
	}
	for i, s := range r.Sheets {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("sheet %d: name is required", i)
		}
		if s.TotalRows < 0 {
			return fmt.Errorf("sheet %q: total rows must be >= 0", s.Name)
		}
	}
	return nil
}

// JobStats represents counts of jobs in each state.
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Stuck      int `json:"stuck"`
}
