package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// notifyStateChange announces a terminal transition. Best effort: the
// transition already committed, so a failed notify only delays the
// broadcaster until its next tick.
func (r *JobRepo) notifyStateChange(ctx context.Context, jobID string) {
	if _, err := r.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, stateNotifyChannel, jobID); err != nil {
		if r.logger != nil {
			r.logger.WarnContext(ctx, "state change notify failed", "job_id", jobID, "error", err)
		}
	}
}

// explainTransitionFailure inspects a job after a conditional update matched
// no rows. Repeating a terminal transition the job already took is treated as
// a no-op; anything else is an invalid transition.
func (r *JobRepo) explainTransitionFailure(ctx context.Context, jobID string, target model.JobStatus) error {
	job, err := r.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if target.Terminal() && job.Status == target {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, job.Status, target)
}

// Complete marks a processing job as completed. Row-level errors do not block
// completion; a job with error rows still completes.
func (r *JobRepo) Complete(ctx context.Context, jobID string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE migration_jobs
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`, jobID, now)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if affected == 0 {
		return r.explainTransitionFailure(ctx, jobID, model.JobStatusCompleted)
	}
	r.notifyStateChange(ctx, jobID)
	return nil
}

// Fail marks a processing or stuck job as failed with the given message.
func (r *JobRepo) Fail(ctx context.Context, jobID string, errMsg string, detail *string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE migration_jobs
		SET status = 'failed',
		    error_message = $2,
		    error_detail = $3,
		    completed_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status IN ('processing', 'stuck')
	`, jobID, errMsg, detail, now)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail rows affected: %w", err)
	}
	if affected == 0 {
		return r.explainTransitionFailure(ctx, jobID, model.JobStatusFailed)
	}
	r.notifyStateChange(ctx, jobID)
	return nil
}

// Cancel marks a pending, processing, or stuck job as cancelled.
func (r *JobRepo) Cancel(ctx context.Context, jobID string, reason string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE migration_jobs
		SET status = 'cancelled',
		    cancel_reason = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing', 'stuck')
	`, jobID, nullIfEmpty(reason), now)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel rows affected: %w", err)
	}
	if affected == 0 {
		return r.explainTransitionFailure(ctx, jobID, model.JobStatusCancelled)
	}
	r.notifyStateChange(ctx, jobID)
	return nil
}

// RequestCancel asks a job to stop. A pending job is cancelled on the spot; a
// running or stuck job gets its cancel flag set and the importer honors it at
// the next batch boundary. Terminal jobs are returned unchanged.
func (r *JobRepo) RequestCancel(ctx context.Context, jobID string, reason string) (*model.MigrationJob, error) {
	now := r.timeProvider.Now().UTC()

	row := r.DB.QueryRowContext(ctx, `
		UPDATE migration_jobs
		SET status = 'cancelled',
		    cancel_requested = TRUE,
		    cancel_reason = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+jobColumns,
		jobID, nullIfEmpty(reason), now,
	)
	job, err := scanJobFromRow(row)
	if err == nil {
		r.notifyStateChange(ctx, jobID)
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cancel pending job: %w", err)
	}

	row = r.DB.QueryRowContext(ctx, `
		UPDATE migration_jobs
		SET cancel_requested = TRUE,
		    cancel_reason = COALESCE(cancel_reason, $2),
		    updated_at = $3
		WHERE id = $1 AND status IN ('processing', 'stuck')
		RETURNING `+jobColumns,
		jobID, nullIfEmpty(reason), now,
	)
	job, err = scanJobFromRow(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request cancel: %w", err)
	}

	// Already terminal; return the job as-is.
	return r.GetByID(ctx, jobID)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
