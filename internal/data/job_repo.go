package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/neobrutalism/crm-migration/internal/data/pgxutil"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// jobNotifyChannel announces new submissions so idle importers wake without
// polling.
const jobNotifyChannel = "migration_job_added"

// stateNotifyChannel announces terminal transitions so the broadcaster can
// publish the final snapshot ahead of its next tick.
const stateNotifyChannel = "migration_job_state"

// JobRepoConfig holds configuration options for the job repository.
type JobRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for migration jobs. Every status
// change is a conditional UPDATE guarded by the current status, so the
// database arbitrates races between workers, the watchdog, and user actions.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg JobRepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const jobColumns = `
  id,
  tenant_id,
  file_name,
  file_size,
  file_hash,
  total_sheets,
  status,
  error_message,
  error_detail,
  cancel_requested,
  cancel_reason,
  started_at,
  completed_at,
  last_heartbeat,
  created_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(scanner jobRowScanner) (*model.MigrationJob, error) {
	job := &model.MigrationJob{}
	var errMsg, errDetail, cancelReason sql.NullString
	var startedAt, completedAt, lastHeartbeat sql.NullTime

	if err := scanner.Scan(
		&job.ID,
		&job.TenantID,
		&job.FileName,
		&job.FileSize,
		&job.FileHash,
		&job.TotalSheets,
		&job.Status,
		&errMsg,
		&errDetail,
		&job.CancelRequested,
		&cancelReason,
		&startedAt,
		&completedAt,
		&lastHeartbeat,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.ErrorMessage = cloneNullableString(errMsg)
	job.ErrorDetail = cloneNullableString(errDetail)
	job.CancelReason = cloneNullableString(cancelReason)
	job.StartedAt = cloneNullableTime(startedAt)
	job.CompletedAt = cloneNullableTime(completedAt)
	job.LastHeartbeat = cloneNullableTime(lastHeartbeat)
	return job, nil
}

func collectJobFromRows(rows pgx.Rows) (*model.MigrationJob, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Submit registers a new job and its sheet rows in one transaction, then
// notifies waiting importers. Submissions are idempotent per file content: a
// second upload of a file that already has a non-terminal job returns the
// existing job and model.ErrDuplicateFile.
func (r *JobRepo) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.MigrationJob, error) {
	if req == nil {
		return nil, errors.New("submit job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	var job *model.MigrationJob
	txErr := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		now := r.timeProvider.Now().UTC()

		rows, qerr := tx.Query(ctx, `
			INSERT INTO migration_jobs (id, tenant_id, file_name, file_size, file_hash, total_sheets, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $7)
			RETURNING `+jobColumns,
			jobID.String(), req.TenantID, req.FileName, req.FileSize, req.FileHash, len(req.Sheets), now,
		)
		if qerr != nil {
			return fmt.Errorf("insert job: %w", qerr)
		}
		j, cerr := collectJobFromRows(rows)
		rows.Close()
		if cerr != nil {
			return fmt.Errorf("collect job: %w", cerr)
		}

		// Position preserves the workbook's tab order; the importer walks
		// sheets in file order, not alphabetically.
		for i, s := range req.Sheets {
			sheetID, serr := uuid.NewV7()
			if serr != nil {
				return fmt.Errorf("generate sheet id: %w", serr)
			}
			if _, serr = tx.Exec(ctx, `
				INSERT INTO migration_sheets (id, job_id, position, sheet_name, sheet_type, status, total_rows, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $7)`,
				sheetID.String(), j.ID, i, s.Name, s.SheetType, s.TotalRows, now,
			); serr != nil {
				return fmt.Errorf("insert sheet %q: %w", s.Name, serr)
			}
		}

		if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobNotifyChannel, j.ID); nerr != nil {
			return fmt.Errorf("send job notification: %w", nerr)
		}

		job = j
		return nil
	})
	if txErr != nil {
		if isUniqueViolation(txErr) {
			existing, lookupErr := r.getActiveByHash(ctx, req.TenantID, req.FileHash)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup duplicate job: %w", lookupErr)
			}
			return existing, model.ErrDuplicateFile
		}
		return nil, txErr
	}
	return job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func (r *JobRepo) getActiveByHash(ctx context.Context, tenantID, fileHash string) (*model.MigrationJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM migration_jobs
		WHERE tenant_id = $1 AND file_hash = $2
		  AND status IN ('pending', 'processing', 'stuck')
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, fileHash)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.MigrationJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM migration_jobs
		WHERE id = $1
	`, id)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs matching the given filters, newest first.
func (r *JobRepo) List(ctx context.Context, opts model.JobListOptions) ([]*model.MigrationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs`
	var conds []string
	var args []any
	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		conds = append(conds, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if opts.Status != "" {
		if !opts.Status.Valid() {
			return nil, fmt.Errorf("invalid job status filter: %q", opts.Status)
		}
		args = append(args, opts.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.MigrationJob
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Stats returns counts of jobs in each state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')    AS pending,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed,
    count(*) FILTER (WHERE status = 'cancelled')  AS cancelled,
    count(*) FILTER (WHERE status = 'stuck')      AS stuck
  FROM migration_jobs
  `).Scan(&s.Pending, &s.Processing, &s.Completed, &s.Failed, &s.Cancelled, &s.Stuck)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

// ActiveJobIDs returns the IDs of all non-terminal jobs: pending, processing,
// and stuck.
func (r *JobRepo) ActiveJobIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id FROM migration_jobs
		WHERE status IN ('pending', 'processing', 'stuck')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
