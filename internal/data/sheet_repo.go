package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// SheetRepo tracks per-sheet progress counters for migration jobs.
type SheetRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSheetRepo creates a new SheetRepo.
func NewSheetRepo(db *sql.DB, tp TimeProvider) *SheetRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &SheetRepo{DB: db, timeProvider: tp}
}

const sheetColumns = `
  id,
  job_id,
  position,
  sheet_name,
  sheet_type,
  status,
  total_rows,
  processed_rows,
  success_rows,
  error_rows,
  created_at,
  updated_at
`

// ListByJob returns the job's sheets in workbook order.
func (r *SheetRepo) ListByJob(ctx context.Context, jobID string) ([]*model.MigrationSheet, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+sheetColumns+`
		FROM migration_sheets
		WHERE job_id = $1
		ORDER BY position, sheet_name
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	defer rows.Close()

	var sheets []*model.MigrationSheet
	for rows.Next() {
		s := &model.MigrationSheet{}
		if err := rows.Scan(
			&s.ID, &s.JobID, &s.Position, &s.SheetName, &s.SheetType, &s.Status,
			&s.TotalRows, &s.ProcessedRows, &s.SuccessRows, &s.ErrorRows,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		sheets = append(sheets, s)
	}
	return sheets, rows.Err()
}

// MarkProcessing marks a sheet as being imported.
func (r *SheetRepo) MarkProcessing(ctx context.Context, jobID, sheetName string) error {
	return r.setStatus(ctx, jobID, sheetName, model.SheetStatusProcessing)
}

// MarkCompleted marks a sheet as finished.
func (r *SheetRepo) MarkCompleted(ctx context.Context, jobID, sheetName string) error {
	return r.setStatus(ctx, jobID, sheetName, model.SheetStatusCompleted)
}

// MarkFailed marks a sheet as failed.
func (r *SheetRepo) MarkFailed(ctx context.Context, jobID, sheetName string) error {
	return r.setStatus(ctx, jobID, sheetName, model.SheetStatusFailed)
}

func (r *SheetRepo) setStatus(ctx context.Context, jobID, sheetName string, status model.SheetStatus) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE migration_sheets
		SET status = $3, updated_at = $4
		WHERE job_id = $1 AND sheet_name = $2
	`, jobID, sheetName, status, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("set sheet status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sheet status rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSheetNotFound
	}
	return nil
}

// AddCounters adds the batch deltas to the sheet's row counters.
func (r *SheetRepo) AddCounters(ctx context.Context, params core.AddSheetCountersParams) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE migration_sheets
		SET processed_rows = processed_rows + $3,
		    success_rows = success_rows + $4,
		    error_rows = error_rows + $5,
		    updated_at = $6
		WHERE job_id = $1 AND sheet_name = $2
	`, params.JobID, params.SheetName, params.Processed, params.Success, params.Errors,
		r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("add sheet counters: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sheet counters rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSheetNotFound
	}
	return nil
}
