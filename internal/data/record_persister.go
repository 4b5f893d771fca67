package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/data/pgxutil"
)

// StagingPersister writes validated rows into the migration_records staging
// table as JSONB documents. Downstream consumers promote staged records into
// their final tables on their own schedule; the importer's contract ends at
// the staging boundary.
type StagingPersister struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewStagingPersister creates a new StagingPersister.
func NewStagingPersister(db *sql.DB, tp TimeProvider) *StagingPersister {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &StagingPersister{DB: db, timeProvider: tp}
}

// PersistBatch writes one batch in a single transaction. Either every row in
// the batch lands or none does; the caller records a per-row failure when the
// batch fails and keeps going.
func (p *StagingPersister) PersistBatch(ctx context.Context, params core.PersistBatchParams) error {
	if len(params.Rows) == 0 {
		return nil
	}

	now := p.timeProvider.Now().UTC()
	return pgxutil.WithTx(ctx, p.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO migration_records
				(job_id, tenant_id, sheet_name, sheet_type, batch_number, row_number, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`)
		if err != nil {
			return fmt.Errorf("prepare staging insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, row := range params.Rows {
			payload, merr := json.Marshal(row.Data)
			if merr != nil {
				return fmt.Errorf("marshal row %d: %w", row.RowNumber, merr)
			}
			if _, err := stmt.ExecContext(ctx,
				params.JobID, params.TenantID, params.SheetName, params.SheetType,
				params.BatchNumber, row.RowNumber, payload, now,
			); err != nil {
				return fmt.Errorf("insert row %d: %w", row.RowNumber, err)
			}
		}
		return nil
	})
}
