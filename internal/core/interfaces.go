// Package core provides the business logic and service layer for the
// migration pipeline.
package core

import (
	"context"
	"io"
	"time"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not concrete implementations.

// JobRepository defines job persistence and status transitions. The database
// is the arbiter of every transition: implementations use conditional updates
// so that a lost race surfaces as ErrInvalidTransition rather than a blind
// overwrite.
type JobRepository interface {
	// Submit registers a new job together with its sheet rows. When an
	// identical file (tenant + hash) already has a non-terminal job, Submit
	// returns that job and ErrDuplicateFile instead of creating a new one.
	Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.MigrationJob, error)
	GetByID(ctx context.Context, id string) (*model.MigrationJob, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.MigrationJob, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	// ActiveJobIDs returns the IDs of all non-terminal jobs: pending,
	// processing, and stuck.
	ActiveJobIDs(ctx context.Context) ([]string, error)

	// Claim moves a specific pending job to processing. Exactly one of N
	// concurrent claimers wins; the rest get ErrInvalidTransition.
	Claim(ctx context.Context, jobID string) (*model.MigrationJob, error)
	// ClaimNext claims the oldest pending job, skipping rows other workers
	// hold locked. Returns ErrNoJobsAvailable when the queue is empty.
	ClaimNext(ctx context.Context) (*model.MigrationJob, error)
	// WaitForNotification blocks until a job submission is announced or ctx
	// is done.
	WaitForNotification(ctx context.Context) error
	// WaitForStateChange blocks until a terminal transition is announced or
	// ctx is done, returning the job ID.
	WaitForStateChange(ctx context.Context) (string, error)

	// Heartbeat refreshes last_heartbeat for a running job. A job the
	// watchdog moved to stuck is resumed back to processing. Returns
	// ErrJobNotRunning for any other state.
	Heartbeat(ctx context.Context, jobID string) error

	// Complete, Fail, and Cancel are terminal transitions. Repeating the
	// transition a job already took is a no-op; requesting a different
	// terminal state returns ErrInvalidTransition.
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, errMsg string, detail *string) error
	Cancel(ctx context.Context, jobID string, reason string) error

	// RequestCancel flags a running job for cooperative cancellation. A
	// pending job is cancelled immediately.
	RequestCancel(ctx context.Context, jobID string, reason string) (*model.MigrationJob, error)
}

// WatchdogRepository defines the batched sweeps run by the stuck-job
// watchdog. Each sweep takes an advisory lock so that at most one watchdog
// instance runs it at a time.
type WatchdogRepository interface {
	// MarkStuckJobs moves processing jobs whose heartbeat is older than
	// grace to stuck. Returns the IDs of the jobs it moved.
	MarkStuckJobs(ctx context.Context, grace time.Duration, batchSize int) ([]string, error)

	// FailTimedOutJobs fails stuck jobs whose last heartbeat is older than
	// timeout. Jobs with fresh heartbeats are never touched. Returns the IDs
	// of the jobs it failed.
	FailTimedOutJobs(ctx context.Context, timeout time.Duration, batchSize int) ([]string, error)
}

// SheetRepository tracks per-sheet progress counters.
type SheetRepository interface {
	ListByJob(ctx context.Context, jobID string) ([]*model.MigrationSheet, error)
	MarkProcessing(ctx context.Context, jobID, sheetName string) error
	MarkCompleted(ctx context.Context, jobID, sheetName string) error
	MarkFailed(ctx context.Context, jobID, sheetName string) error
	// AddCounters adds the batch deltas to processed/success/error counters.
	AddCounters(ctx context.Context, params AddSheetCountersParams) error
}

// AddSheetCountersParams groups parameters for SheetRepository.AddCounters.
type AddSheetCountersParams struct {
	JobID     string
	SheetName string
	Processed int64
	Success   int64
	Errors    int64
}

// ErrorRepository is the append-only store for row-level failures.
// Implementations must write on a connection independent of any batch
// transaction, so a rolled-back batch cannot discard its error records.
type ErrorRepository interface {
	BulkInsert(ctx context.Context, errs []*model.MigrationError) error
	ListByJob(ctx context.Context, opts model.ErrorListOptions) ([]*model.MigrationError, error)
	CountByJob(ctx context.Context, jobID string, filter model.ErrorFilter) (int64, error)
	// FatalCountByJob counts errors that should trip the fatal threshold,
	// i.e. persistence failures as opposed to data validation errors.
	FatalCountByJob(ctx context.Context, jobID string) (int64, error)
}

// CacheRepository defines the interface for caching operations.
type CacheRepository interface {
	// Set stores a value with the given TTL. A TTL of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns nil when the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes a key. Returns true if the key was deleted.
	Delete(ctx context.Context, key string) (bool, error)
	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// Publisher fans progress snapshots out to subscribed clients.
type Publisher interface {
	PublishProgress(ctx context.Context, snapshot *model.ProgressSnapshot) error
}

// RecordPersister writes a batch of validated rows for one sheet type.
// A failed batch affects only its own rows; the importer records the failure
// per row and moves on.
type RecordPersister interface {
	PersistBatch(ctx context.Context, params PersistBatchParams) error
}

// PersistBatchParams groups parameters for RecordPersister.PersistBatch.
type PersistBatchParams struct {
	JobID       string
	TenantID    string
	SheetName   string
	SheetType   string
	BatchNumber int
	Rows        []BatchRow
}

// BatchRow is one validated row headed for storage.
type BatchRow struct {
	RowNumber int64
	Data      map[string]string
}

// FileStore persists uploaded workbooks between submission and import.
type FileStore interface {
	// Save streams the upload to storage and returns its path and SHA-256.
	Save(ctx context.Context, params SaveFileParams) (*StoredFile, error)
	// Open returns a filesystem path to the stored workbook for jobID.
	Open(ctx context.Context, jobID string) (string, error)
	// Rename re-keys a stored workbook from one ID to another.
	Rename(ctx context.Context, oldID, newID string) error
	// Remove deletes the stored workbook for jobID.
	Remove(ctx context.Context, jobID string) error
}

// SaveFileParams groups parameters for FileStore.Save.
type SaveFileParams struct {
	JobID    string
	FileName string
	Reader   io.Reader
}

// StoredFile describes a persisted upload.
type StoredFile struct {
	Path string
	Size int64
	Hash string
}
