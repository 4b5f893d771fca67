package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// ErrorRepo is the append-only store for row-level failures. It holds its own
// *sql.DB handle: error writes must never ride inside a batch transaction, or
// a rolled-back batch would take its error records with it.
type ErrorRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewErrorRepo creates a new ErrorRepo.
func NewErrorRepo(db *sql.DB, tp TimeProvider) *ErrorRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ErrorRepo{DB: db, timeProvider: tp}
}

const errorColumns = `
  id,
  job_id,
  sheet_name,
  row_number,
  batch_number,
  error_code,
  error_message,
  error_data,
  validation_rule,
  created_at
`

// BulkInsert appends error records in a single multi-row insert. Errors are
// never updated or deleted afterwards.
func (r *ErrorRepo) BulkInsert(ctx context.Context, errs []*model.MigrationError) error {
	if len(errs) == 0 {
		return nil
	}

	now := r.timeProvider.Now().UTC()
	var sb strings.Builder
	sb.WriteString(`INSERT INTO migration_errors
		(job_id, sheet_name, row_number, batch_number, error_code, error_message, error_data, validation_rule, created_at)
		VALUES `)
	args := make([]any, 0, len(errs)*9)
	for i, e := range errs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)

		data := e.ErrorData
		if len(data) == 0 {
			data = []byte(`{}`)
		}
		args = append(args, e.JobID, e.SheetName, e.RowNumber, e.BatchNumber,
			e.ErrorCode, e.ErrorMessage, []byte(data), e.ValidationRule, now)
	}

	if _, err := r.DB.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk insert errors: %w", err)
	}
	return nil
}

// ListByJob pages through a job's error records in id order. Keyset
// pagination via AfterID keeps deep pages cheap on large jobs.
func (r *ErrorRepo) ListByJob(ctx context.Context, opts model.ErrorListOptions) ([]*model.MigrationError, error) {
	query := `SELECT ` + errorColumns + ` FROM migration_errors WHERE job_id = $1`
	args := []any{opts.JobID}

	query, args = appendErrorFilter(query, args, opts.Filter)
	if opts.AfterID > 0 {
		args = append(args, opts.AfterID)
		query += fmt.Sprintf(" AND id > $%d", len(args))
	}
	query += " ORDER BY id"

	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	var out []*model.MigrationError
	for rows.Next() {
		e := &model.MigrationError{}
		var rule sql.NullString
		var data []byte
		if err := rows.Scan(
			&e.ID, &e.JobID, &e.SheetName, &e.RowNumber, &e.BatchNumber,
			&e.ErrorCode, &e.ErrorMessage, &data, &rule, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan error row: %w", err)
		}
		e.ErrorData = data
		e.ValidationRule = cloneNullableString(rule)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByJob counts a job's error records matching the filter.
func (r *ErrorRepo) CountByJob(ctx context.Context, jobID string, filter model.ErrorFilter) (int64, error) {
	query := `SELECT count(*) FROM migration_errors WHERE job_id = $1`
	args := []any{jobID}
	query, args = appendErrorFilter(query, args, filter)

	var n int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count errors: %w", err)
	}
	return n, nil
}

// FatalCountByJob counts persistence failures, the error class that trips the
// fatal threshold. Validation errors are data problems and never count.
func (r *ErrorRepo) FatalCountByJob(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM migration_errors
		WHERE job_id = $1 AND error_code = $2
	`, jobID, model.ErrorCodePersistFailure).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count fatal errors: %w", err)
	}
	return n, nil
}

func appendErrorFilter(query string, args []any, f model.ErrorFilter) (string, []any) {
	if f.SheetName != "" {
		args = append(args, f.SheetName)
		query += fmt.Sprintf(" AND sheet_name = $%d", len(args))
	}
	if f.ErrorCode != "" {
		args = append(args, f.ErrorCode)
		query += fmt.Sprintf(" AND error_code = $%d", len(args))
	}
	if f.BatchNumber > 0 {
		args = append(args, f.BatchNumber)
		query += fmt.Sprintf(" AND batch_number = $%d", len(args))
	}
	return query, args
}
