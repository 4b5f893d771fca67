package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/sheets"
	"github.com/neobrutalism/crm-migration/internal/validation"
)

func newMigrationHarness(t *testing.T, reader sheets.Reader) (*MigrationService, *fakeJobRepo, *fakeFileStore) {
	t.Helper()
	jobs := newFakeJobRepo()
	files := newFakeFileStore()
	svc, err := NewMigrationService(MigrationServiceOptions{
		Jobs:  jobs,
		Files: files,
		Extras: MigrationServiceExtras{
			Registry: validation.DefaultRegistry(),
			OpenReader: func(string) (sheets.Reader, error) {
				return reader, nil
			},
		},
	})
	require.NoError(t, err)
	return svc, jobs, files
}

func TestMigrationService_SubmitUpload(t *testing.T) {
	reader := sheets.NewMemoryReader(
		[]string{"Contracts_2024", "Notes"},
		map[string][]sheets.Row{
			"Contracts_2024": {{"contract_number": "HD001"}},
			"Notes":          {{"text": "hello"}},
		},
	)
	svc, jobs, files := newMigrationHarness(t, reader)
	ctx := context.Background()

	job, err := svc.SubmitUpload(ctx, SubmitUploadParams{
		TenantID:  "tenant-1",
		FileName:  "book.xlsx",
		StagingID: "staging-1",
		Body:      strings.NewReader("bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.TotalSheets)

	// The staged upload was re-homed under the job ID
	assert.False(t, files.has("staging-1"))
	assert.True(t, files.has(job.ID))

	stored, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "book.xlsx", stored.FileName)
}

func TestMigrationService_SubmitUpload_Duplicate(t *testing.T) {
	reader := sheets.NewMemoryReader(
		[]string{"Contracts"},
		map[string][]sheets.Row{"Contracts": {{"contract_number": "HD001"}}},
	)
	svc, _, files := newMigrationHarness(t, reader)
	ctx := context.Background()

	first, err := svc.SubmitUpload(ctx, SubmitUploadParams{
		TenantID:  "tenant-1",
		FileName:  "book.xlsx",
		StagingID: "staging-1",
		Body:      strings.NewReader("bytes"),
	})
	require.NoError(t, err)

	// Same file name yields the same content hash in the fake store
	existing, err := svc.SubmitUpload(ctx, SubmitUploadParams{
		TenantID:  "tenant-1",
		FileName:  "book.xlsx",
		StagingID: "staging-2",
		Body:      strings.NewReader("bytes"),
	})
	require.ErrorIs(t, err, model.ErrDuplicateFile)
	require.NotNil(t, existing)
	assert.Equal(t, first.ID, existing.ID)

	// The duplicate's staged copy was discarded
	assert.False(t, files.has("staging-2"))
	assert.True(t, files.has(first.ID))
}

func TestMigrationService_SubmitUpload_EmptyWorkbook(t *testing.T) {
	reader := sheets.NewMemoryReader(nil, nil)
	svc, _, files := newMigrationHarness(t, reader)

	_, err := svc.SubmitUpload(context.Background(), SubmitUploadParams{
		TenantID:  "tenant-1",
		FileName:  "empty.xlsx",
		StagingID: "staging-1",
		Body:      strings.NewReader(""),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sheets")
	assert.False(t, files.has("staging-1"))
}

func TestMigrationService_RequestCancel(t *testing.T) {
	reader := sheets.NewMemoryReader(nil, nil)
	svc, jobs, _ := newMigrationHarness(t, reader)
	ctx := context.Background()

	jobs.addJob("job-1", model.JobStatusPending)

	job, err := svc.RequestCancel(ctx, "job-1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, job.Status)
}
