package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/neobrutalism/crm-migration/internal/data/pgxutil"
)

// Advisory lock namespace for watchdog sweeps.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for migration watchdog operations.
const (
	advisoryLockWatchdogMajor     = 2000
	advisoryLockWatchdogMarkStuck = 1 // minor key for MarkStuckJobs
	advisoryLockWatchdogFail      = 2 // minor key for FailTimedOutJobs
)

// MarkStuckJobs moves processing jobs whose heartbeat is older than grace to
// stuck. Processes up to batchSize jobs per call to prevent long locks.
// An advisory lock keeps concurrent watchdog instances from sweeping the same
// rows. Returns the IDs of the jobs it moved.
func (r *JobRepo) MarkStuckJobs(ctx context.Context, grace time.Duration, batchSize int) ([]string, error) {
	var ids []string
	err := pgxutil.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var locked bool
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
			advisoryLockWatchdogMajor, advisoryLockWatchdogMarkStuck).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil
		}

		now := r.timeProvider.Now()
		cutoff := now.Add(-grace)

		rows, err := tx.QueryContext(ctx, `
			UPDATE migration_jobs
			SET status = 'stuck',
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM migration_jobs
				WHERE status = 'processing'
				  AND last_heartbeat < $2
				ORDER BY last_heartbeat
				LIMIT $3
			)
			RETURNING id
		`, now.UTC(), cutoff.UTC(), batchSize)
		if err != nil {
			return fmt.Errorf("mark stuck jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FailTimedOutJobs fails stuck jobs whose last heartbeat is older than
// timeout. A processing job is never failed here: fresh heartbeats prove the
// worker is alive no matter how long the import has run. Returns the IDs of
// the jobs it failed.
func (r *JobRepo) FailTimedOutJobs(ctx context.Context, timeout time.Duration, batchSize int) ([]string, error) {
	var ids []string
	err := pgxutil.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var locked bool
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
			advisoryLockWatchdogMajor, advisoryLockWatchdogFail).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil
		}

		now := r.timeProvider.Now()
		cutoff := now.Add(-timeout)

		rows, err := tx.QueryContext(ctx, `
			UPDATE migration_jobs
			SET status = 'failed',
			    error_message = 'job stalled: no heartbeat received within the stuck timeout',
			    completed_at = $1,
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM migration_jobs
				WHERE status = 'stuck'
				  AND last_heartbeat < $2
				ORDER BY last_heartbeat
				LIMIT $3
			)
			RETURNING id
		`, now.UTC(), cutoff.UTC(), batchSize)
		if err != nil {
			return fmt.Errorf("fail timed out jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	// Watchdog failures are terminal transitions; announce them like any
	// other so the broadcaster publishes the final snapshot promptly.
	for _, id := range ids {
		r.notifyStateChange(ctx, id)
	}
	return ids, nil
}
