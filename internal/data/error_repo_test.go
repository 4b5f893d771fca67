package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/testutil"
)

// TestErrorRepo_Integration_BulkInsertAndList covers the append path, keyset
// pagination, and filtering.
func TestErrorRepo_Integration_BulkInsertAndList(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		jobs := NewJobRepo(db, JobRepoConfig{})
		errRepo := NewErrorRepo(db, nil)
		ctx := context.Background()

		req := testutil.NewSubmitRequest().Build()
		job, err := jobs.Submit(ctx, &req)
		require.NoError(t, err)

		batch := make([]*model.MigrationError, 0, 5)
		for i := 0; i < 5; i++ {
			code := model.ErrorCodeMissingRequiredField
			if i%2 == 1 {
				code = model.ErrorCodeInvalidEnumValue
			}
			batch = append(batch, &model.MigrationError{
				JobID:        job.ID,
				SheetName:    "Contracts",
				RowNumber:    int64(i + 1),
				BatchNumber:  1,
				ErrorCode:    code,
				ErrorMessage: fmt.Sprintf("row %d is bad", i+1),
				ErrorData:    json.RawMessage(`{"field":"contract_number"}`),
			})
		}
		require.NoError(t, errRepo.BulkInsert(ctx, batch))

		// Empty batch is a no-op
		require.NoError(t, errRepo.BulkInsert(ctx, nil))

		total, err := errRepo.CountByJob(ctx, job.ID, model.ErrorFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)

		enumOnly, err := errRepo.CountByJob(ctx, job.ID, model.ErrorFilter{ErrorCode: model.ErrorCodeInvalidEnumValue})
		require.NoError(t, err)
		assert.Equal(t, int64(2), enumOnly)

		// Keyset pagination walks the set in id order
		page1, err := errRepo.ListByJob(ctx, model.ErrorListOptions{JobID: job.ID, Limit: 3})
		require.NoError(t, err)
		require.Len(t, page1, 3)
		assert.Equal(t, int64(1), page1[0].RowNumber)

		page2, err := errRepo.ListByJob(ctx, model.ErrorListOptions{
			JobID:   job.ID,
			AfterID: page1[len(page1)-1].ID,
			Limit:   3,
		})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.Greater(t, page2[0].ID, page1[2].ID)

		filtered, err := errRepo.ListByJob(ctx, model.ErrorListOptions{
			JobID:  job.ID,
			Filter: model.ErrorFilter{SheetName: "Customers"},
		})
		require.NoError(t, err)
		assert.Empty(t, filtered)
	})
}

// TestErrorRepo_Integration_FatalCount counts only persistence failures.
func TestErrorRepo_Integration_FatalCount(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		jobs := NewJobRepo(db, JobRepoConfig{})
		errRepo := NewErrorRepo(db, nil)
		ctx := context.Background()

		req := testutil.NewSubmitRequest().Build()
		job, err := jobs.Submit(ctx, &req)
		require.NoError(t, err)

		require.NoError(t, errRepo.BulkInsert(ctx, []*model.MigrationError{
			{JobID: job.ID, SheetName: "Contracts", RowNumber: 1, BatchNumber: 1,
				ErrorCode: model.ErrorCodePersistFailure, ErrorMessage: "insert failed"},
			{JobID: job.ID, SheetName: "Contracts", RowNumber: 2, BatchNumber: 1,
				ErrorCode: model.ErrorCodeMissingRequiredField, ErrorMessage: "missing"},
		}))

		fatal, err := errRepo.FatalCountByJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), fatal)
	})
}
