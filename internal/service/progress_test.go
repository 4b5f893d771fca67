package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

func addCounters(jobID, sheet string, processed, success, errorRows int64) core.AddSheetCountersParams {
	return core.AddSheetCountersParams{
		JobID:     jobID,
		SheetName: sheet,
		Processed: processed,
		Success:   success,
		Errors:    errorRows,
	}
}

func newProgressHarness(t *testing.T, cache *fakeCache) (*ProgressService, *fakeJobRepo, *fakeSheetRepo) {
	t.Helper()
	jobs := newFakeJobRepo()
	sheetRepo := newFakeSheetRepo()
	svc, err := NewProgressService(ProgressServiceOptions{
		Jobs:   jobs,
		Sheets: sheetRepo,
		Extras: ProgressServiceExtras{
			Cache:    cache,
			CacheTTL: 5 * time.Second,
		},
	})
	require.NoError(t, err)
	return svc, jobs, sheetRepo
}

func TestProgressService_Snapshot(t *testing.T) {
	svc, jobs, sheetRepo := newProgressHarness(t, newFakeCache())
	ctx := context.Background()

	jobs.addJob("job-1", model.JobStatusProcessing)
	sheetRepo.addSheet("job-1", "Contracts", "contracts", 200)
	require.NoError(t, sheetRepo.AddCounters(ctx, addCounters("job-1", "Contracts", 100, 90, 10)))

	snap, err := svc.Snapshot(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.TotalRows)
	assert.Equal(t, int64(100), snap.ProcessedRows)
	assert.Equal(t, int64(90), snap.SuccessRows)
	assert.Equal(t, int64(10), snap.ErrorRows)
	assert.InDelta(t, 50.0, snap.PercentComplete, 0.01)
	require.Len(t, snap.Sheets, 1)
	assert.Equal(t, "Contracts", snap.Sheets[0].SheetName)
}

func TestProgressService_SnapshotServedFromCache(t *testing.T) {
	cache := newFakeCache()
	svc, jobs, sheetRepo := newProgressHarness(t, cache)
	ctx := context.Background()

	jobs.addJob("job-1", model.JobStatusProcessing)
	sheetRepo.addSheet("job-1", "Contracts", "contracts", 10)

	_, err := svc.Snapshot(ctx, "job-1")
	require.NoError(t, err)
	callsAfterFirst := jobs.getCalls

	// Second read hits the cache, not the repositories
	_, err = svc.Snapshot(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, jobs.getCalls)
	assert.Equal(t, 1, cache.sets)
}

func TestProgressService_RefreshBypassesCache(t *testing.T) {
	cache := newFakeCache()
	svc, jobs, sheetRepo := newProgressHarness(t, cache)
	ctx := context.Background()

	jobs.addJob("job-1", model.JobStatusProcessing)
	sheetRepo.addSheet("job-1", "Contracts", "contracts", 10)

	_, err := svc.Snapshot(ctx, "job-1")
	require.NoError(t, err)

	// The job finishes while a cached running snapshot still exists
	require.NoError(t, jobs.Heartbeat(ctx, "job-1"))
	require.NoError(t, jobs.Complete(ctx, "job-1"))

	snap, err := svc.Refresh(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, snap.Status)

	// Refresh replaced the cached entry too
	cached, err := svc.Snapshot(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, cached.Status)
}

func TestProgressService_WorksWithoutCache(t *testing.T) {
	jobs := newFakeJobRepo()
	sheetRepo := newFakeSheetRepo()
	svc, err := NewProgressService(ProgressServiceOptions{Jobs: jobs, Sheets: sheetRepo})
	require.NoError(t, err)

	jobs.addJob("job-1", model.JobStatusCompleted)
	sheetRepo.addSheet("job-1", "Contracts", "contracts", 0)

	snap, err := svc.Snapshot(context.Background(), "job-1")
	require.NoError(t, err)
	// Terminal jobs with nothing to do report 100%
	assert.InDelta(t, 100.0, snap.PercentComplete, 0.01)
}
