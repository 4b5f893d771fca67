package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/neobrutalism/crm-migration/internal/data/pgxutil"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// SQL used by ClaimNext to atomically claim the oldest pending job.
const claimNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM migration_jobs
    WHERE status = 'pending'
    ORDER BY created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE migration_jobs j
  SET
    status = 'processing',
    started_at = COALESCE(j.started_at, $1),
    last_heartbeat = $1,
    updated_at = $1
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.tenant_id, j.file_name, j.file_size, j.file_hash, j.total_sheets, j.status, j.error_message, j.error_detail, j.cancel_requested, j.cancel_reason, j.started_at, j.completed_at, j.last_heartbeat, j.created_at, j.updated_at`

// Claim moves a specific pending job to processing. The conditional update
// guarantees exactly one of N concurrent claimers wins; losers get
// model.ErrInvalidTransition.
func (r *JobRepo) Claim(ctx context.Context, jobID string) (*model.MigrationJob, error) {
	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE migration_jobs
		SET status = 'processing',
		    started_at = COALESCE(started_at, $2),
		    last_heartbeat = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+jobColumns,
		jobID, now,
	)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.explainTransitionFailure(ctx, jobID, model.JobStatusProcessing)
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// ClaimNext claims the oldest pending job, skipping rows locked by other
// workers. Returns model.ErrNoJobsAvailable when the queue is empty.
func (r *JobRepo) ClaimNext(ctx context.Context) (*model.MigrationJob, error) {
	var job *model.MigrationJob
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		now := r.timeProvider.Now().UTC()
		rows, qerr := tx.Query(ctx, claimNextUpdateSQL, now)
		if qerr != nil {
			return fmt.Errorf("claim next job: %w", qerr)
		}
		defer rows.Close()

		j, cerr := collectJobFromRows(rows)
		if errors.Is(cerr, pgx.ErrNoRows) {
			return model.ErrNoJobsAvailable
		}
		if cerr != nil {
			return fmt.Errorf("claim next job: %w", cerr)
		}
		job = j
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes last_heartbeat for a running job. A job the watchdog
// moved to stuck is brought back to processing, since an arriving heartbeat
// proves the worker is alive.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE migration_jobs
		SET status = 'processing',
		    last_heartbeat = $2,
		    updated_at = $2
		WHERE id = $1 AND status IN ('processing', 'stuck')
	`, jobID, now)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
			return getErr
		}
		return model.ErrJobNotRunning
	}
	return nil
}

// WaitForNotification blocks until a job submission is announced or ctx is
// done.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	_, err := r.listen(ctx, jobNotifyChannel)
	return err
}

// WaitForStateChange blocks until a terminal transition is announced or ctx
// is done, returning the job ID carried in the notification.
func (r *JobRepo) WaitForStateChange(ctx context.Context) (string, error) {
	return r.listen(ctx, stateNotifyChannel)
}

// listen dedicates a pool connection to LISTEN on the given channel and
// blocks for one notification, returning its payload.
func (r *JobRepo) listen(ctx context.Context, channel string) (string, error) {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() { _ = conn.Close() }()

	quoted := pgx.Identifier{channel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return "", fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	var payload string
	rawErr := conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		n, notifyErr := sc.Conn().WaitForNotification(ctx)
		if notifyErr != nil {
			return notifyErr
		}
		payload = n.Payload
		return nil
	})
	return payload, rawErr
}
