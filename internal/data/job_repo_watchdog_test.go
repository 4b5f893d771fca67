package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/testutil"
)

// TestJobRepo_Integration_MarkStuckJobs checks that processing jobs with a
// stale heartbeat are moved to stuck and fresh ones are left alone.
func TestJobRepo_Integration_MarkStuckJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoConfig{})
		ctx := context.Background()

		stale := submitAndClaim(t, repo, "stale")
		fresh := submitAndClaim(t, repo, "fresh")

		_, err := db.ExecContext(ctx,
			`UPDATE migration_jobs SET last_heartbeat = now() - interval '10 minutes' WHERE id = $1`,
			stale.ID)
		require.NoError(t, err)

		marked, err := repo.MarkStuckJobs(ctx, 5*time.Minute, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{stale.ID}, marked)

		stuck, err := repo.GetByID(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusStuck, stuck.Status)

		untouched, err := repo.GetByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, untouched.Status)

		// A second sweep finds nothing new
		marked, err = repo.MarkStuckJobs(ctx, 5*time.Minute, 100)
		require.NoError(t, err)
		assert.Empty(t, marked)
	})
}

// TestJobRepo_Integration_FailTimedOutJobs checks that only stuck jobs whose
// heartbeat never resumed are failed. A long-running processing job that is
// still heartbeating stays untouched, however old its started_at is.
func TestJobRepo_Integration_FailTimedOutJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoConfig{})
		ctx := context.Background()

		dead := submitAndClaim(t, repo, "dead")
		reviving := submitAndClaim(t, repo, "reviving")
		longRunning := submitAndClaim(t, repo, "long-running")

		// Stuck with no heartbeat for 40 minutes: past the timeout.
		_, err := db.ExecContext(ctx,
			`UPDATE migration_jobs SET status = 'stuck', last_heartbeat = now() - interval '40 minutes' WHERE id = $1`,
			dead.ID)
		require.NoError(t, err)

		// Stuck but the heartbeat is only 10 minutes old: still within the
		// timeout, may yet resume.
		_, err = db.ExecContext(ctx,
			`UPDATE migration_jobs SET status = 'stuck', last_heartbeat = now() - interval '10 minutes' WHERE id = $1`,
			reviving.ID)
		require.NoError(t, err)

		// Processing for an hour, heartbeating every batch: healthy.
		_, err = db.ExecContext(ctx,
			`UPDATE migration_jobs SET started_at = now() - interval '1 hour' WHERE id = $1`,
			longRunning.ID)
		require.NoError(t, err)
		require.NoError(t, repo.Heartbeat(ctx, longRunning.ID))

		failed, err := repo.FailTimedOutJobs(ctx, 30*time.Minute, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{dead.ID}, failed)

		timedOut, err := repo.GetByID(ctx, dead.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, timedOut.Status)
		require.NotNil(t, timedOut.ErrorMessage)
		assert.Contains(t, *timedOut.ErrorMessage, "no heartbeat")

		stillStuck, err := repo.GetByID(ctx, reviving.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusStuck, stillStuck.Status)

		running, err := repo.GetByID(ctx, longRunning.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, running.Status)
	})
}

func submitAndClaim(t *testing.T, repo *JobRepo, seed string) *model.MigrationJob {
	t.Helper()
	ctx := context.Background()

	req := testutil.NewSubmitRequest().WithFileHash(testutil.HashOf(seed)).Build()
	job, err := repo.Submit(ctx, &req)
	require.NoError(t, err)

	claimed, err := repo.Claim(ctx, job.ID)
	require.NoError(t, err)
	return claimed
}
