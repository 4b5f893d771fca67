package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/sheets"
	"github.com/neobrutalism/crm-migration/internal/validation"
)

// importerHarness bundles the fakes behind one importer under test.
type importerHarness struct {
	jobs      *fakeJobRepo
	sheetRepo *fakeSheetRepo
	errs      *fakeErrorRepo
	persister *fakePersister
	files     *fakeFileStore
	reader    *sheets.MemoryReader
	svc       *ImporterService
}

// markerValidator fails any row whose "bad" column is "1".
func markerValidator(row sheets.Row, _ int64) validation.ValidationResult {
	var res validation.ValidationResult
	if row.Get("bad") == "1" {
		res.AddError(model.ErrorCodeInvalidFormat, "marked bad", "bad")
	}
	return res
}

func newImporterHarness(t *testing.T, cfg config.ImporterConfig, reader *sheets.MemoryReader) *importerHarness {
	t.Helper()

	registry := validation.NewRegistry()
	registry.Register("contracts", markerValidator)
	registry.Register("customers", markerValidator)

	h := &importerHarness{
		jobs:      newFakeJobRepo(),
		sheetRepo: newFakeSheetRepo(),
		errs:      &fakeErrorRepo{},
		persister: &fakePersister{},
		files:     newFakeFileStore(),
		reader:    reader,
	}

	svc, err := NewImporterService(ImporterServiceOptions{
		Jobs:   h.jobs,
		Sheets: h.sheetRepo,
		Deps: ImporterServiceDeps{
			Errors:    h.errs,
			Persister: h.persister,
			Files:     h.files,
			Registry:  registry,
			OpenReader: func(string) (sheets.Reader, error) {
				return reader, nil
			},
			Config: cfg,
		},
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

// startJob registers a processing job with a stored workbook and sheet rows
// matching the reader.
func (h *importerHarness) startJob(t *testing.T, id string, sheetTypes map[string]string) *model.MigrationJob {
	t.Helper()
	job := h.jobs.addJob(id, model.JobStatusProcessing)
	_, err := h.files.Save(context.Background(), core.SaveFileParams{JobID: id, FileName: job.FileName})
	require.NoError(t, err)
	for _, name := range h.reader.Names {
		h.sheetRepo.addSheet(id, name, sheetTypes[name], int64(len(h.reader.Data[name])))
	}
	return job
}

func row(vals map[string]string) sheets.Row { return vals }

func TestImporterService_ImportJob_CompletesWithRowErrors(t *testing.T) {
	reader := sheets.NewMemoryReader(
		[]string{"Contracts", "Customers"},
		map[string][]sheets.Row{
			"Contracts": {
				row(map[string]string{"contract_number": "HD001"}),
				row(map[string]string{"contract_number": "HD002", "bad": "1"}),
				row(map[string]string{"contract_number": "HD003"}),
				row(map[string]string{"contract_number": "HD004"}),
				row(map[string]string{"contract_number": "HD005"}),
			},
			"Customers": {
				row(map[string]string{"customer_code": "KH01"}),
				row(map[string]string{"customer_code": "KH02"}),
			},
		},
	)
	h := newImporterHarness(t, config.ImporterConfig{BatchSize: 2}, reader)
	job := h.startJob(t, "job-a", map[string]string{"Contracts": "contracts", "Customers": "customers"})

	require.NoError(t, h.svc.ImportJob(context.Background(), job))

	assert.Equal(t, model.JobStatusCompleted, h.jobs.status(job.ID))

	// 6 of 7 rows persisted, 1 recorded as a row error
	assert.Equal(t, 6, h.persister.rowCount())
	require.Len(t, h.errs.records, 1)
	assert.Equal(t, model.ErrorCodeInvalidFormat, h.errs.records[0].ErrorCode)
	assert.Equal(t, int64(2), h.errs.records[0].RowNumber)

	sheetRows, err := h.sheetRepo.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	for _, sh := range sheetRows {
		assert.Equal(t, model.SheetStatusCompleted, sh.Status, sh.SheetName)
	}
	contracts := sheetRows[0]
	assert.Equal(t, int64(5), contracts.ProcessedRows)
	assert.Equal(t, int64(4), contracts.SuccessRows)
	assert.Equal(t, int64(1), contracts.ErrorRows)

	// Stored workbook is cleaned up after completion
	assert.False(t, h.files.has(job.ID))
}

func TestImporterService_ImportJob_UnknownSheetTypeFailsJob(t *testing.T) {
	reader := sheets.NewMemoryReader(
		[]string{"Legacy"},
		map[string][]sheets.Row{
			"Legacy": {row(map[string]string{"a": "1"})},
		},
	)
	h := newImporterHarness(t, config.ImporterConfig{}, reader)
	job := h.startJob(t, "job-b", map[string]string{"Legacy": ""})

	require.NoError(t, h.svc.ImportJob(context.Background(), job))

	assert.Equal(t, model.JobStatusFailed, h.jobs.status(job.ID))
	// Unknown sheet type is a job failure, not row errors
	assert.Empty(t, h.errs.records)
	assert.Zero(t, h.persister.rowCount())
}

func TestImporterService_ImportJob_ZeroRowSheetCompletes(t *testing.T) {
	reader := sheets.NewMemoryReader(
		[]string{"Contracts"},
		map[string][]sheets.Row{"Contracts": {}},
	)
	h := newImporterHarness(t, config.ImporterConfig{}, reader)
	job := h.startJob(t, "job-c", map[string]string{"Contracts": "contracts"})

	require.NoError(t, h.svc.ImportJob(context.Background(), job))

	assert.Equal(t, model.JobStatusCompleted, h.jobs.status(job.ID))
	sheetRows, err := h.sheetRepo.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SheetStatusCompleted, sheetRows[0].Status)
	assert.Zero(t, sheetRows[0].ProcessedRows)
}

func TestImporterService_ImportJob_CancelsAtBatchBoundary(t *testing.T) {
	rows := make([]sheets.Row, 6)
	for i := range rows {
		rows[i] = row(map[string]string{"n": "x"})
	}
	reader := sheets.NewMemoryReader(
		[]string{"Contracts"},
		map[string][]sheets.Row{"Contracts": rows},
	)
	h := newImporterHarness(t, config.ImporterConfig{BatchSize: 2}, reader)
	job := h.startJob(t, "job-d", map[string]string{"Contracts": "contracts"})

	// Request cancellation once the first batch lands; the importer should
	// notice at the next batch boundary and stop.
	h.persister.afterFlush = func(core.PersistBatchParams) {
		h.jobs.setCancelRequested(job.ID, "user asked")
	}

	require.NoError(t, h.svc.ImportJob(context.Background(), job))

	assert.Equal(t, model.JobStatusCancelled, h.jobs.status(job.ID))
	// Only the first batch was persisted
	assert.Equal(t, 2, h.persister.rowCount())
	assert.False(t, h.files.has(job.ID))
}

func TestImporterService_ImportJob_PersistFailureDemotesRows(t *testing.T) {
	reader := sheets.NewMemoryReader(
		[]string{"Contracts"},
		map[string][]sheets.Row{
			"Contracts": {
				row(map[string]string{"contract_number": "HD001"}),
				row(map[string]string{"contract_number": "HD002"}),
			},
		},
	)
	h := newImporterHarness(t, config.ImporterConfig{}, reader)
	h.persister.failAll = true
	job := h.startJob(t, "job-e", map[string]string{"Contracts": "contracts"})

	require.NoError(t, h.svc.ImportJob(context.Background(), job))

	// The job still completes; the rows carry PERSIST_FAILURE records.
	assert.Equal(t, model.JobStatusCompleted, h.jobs.status(job.ID))
	demoted := h.errs.byCode(model.ErrorCodePersistFailure)
	assert.Len(t, demoted, 2)

	sheetRows, err := h.sheetRepo.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sheetRows[0].ProcessedRows)
	assert.Zero(t, sheetRows[0].SuccessRows)
	assert.Equal(t, int64(2), sheetRows[0].ErrorRows)
}

func TestImporterService_ImportJob_FatalThresholdFailsJob(t *testing.T) {
	reader := sheets.NewMemoryReader(
		[]string{"Contracts"},
		map[string][]sheets.Row{
			"Contracts": {
				row(map[string]string{"contract_number": "HD001"}),
				row(map[string]string{"contract_number": "HD002"}),
			},
		},
	)
	h := newImporterHarness(t, config.ImporterConfig{FatalErrorThreshold: 2}, reader)
	h.persister.failAll = true
	job := h.startJob(t, "job-f", map[string]string{"Contracts": "contracts"})

	require.NoError(t, h.svc.ImportJob(context.Background(), job))

	assert.Equal(t, model.JobStatusFailed, h.jobs.status(job.ID))
	job2, err := h.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, job2.ErrorMessage)
	assert.Contains(t, *job2.ErrorMessage, "fatal threshold")
}

func TestImporterService_ImportJob_MissingWorkbookFailsJob(t *testing.T) {
	reader := sheets.NewMemoryReader(nil, nil)
	h := newImporterHarness(t, config.ImporterConfig{}, reader)
	job := h.jobs.addJob("job-g", model.JobStatusProcessing)

	require.NoError(t, h.svc.ImportJob(context.Background(), job))

	assert.Equal(t, model.JobStatusFailed, h.jobs.status(job.ID))
	got, err := h.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "stored workbook is missing", *got.ErrorMessage)
}
