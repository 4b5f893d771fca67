package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/sheets"
	"github.com/neobrutalism/crm-migration/internal/validation"
)

// errJobHalted signals that the job reached a terminal state mid-import
// (cancelled cooperatively or finished by someone else) and processing should
// stop without failing it.
var errJobHalted = errors.New("job halted")

// ImporterServiceOptions groups dependencies for ImporterService.
type ImporterServiceOptions struct {
	Jobs   core.JobRepository
	Sheets core.SheetRepository
	Deps   ImporterServiceDeps
}

// ImporterServiceDeps groups the secondary dependencies.
type ImporterServiceDeps struct {
	Errors     core.ErrorRepository
	Persister  core.RecordPersister
	Files      core.FileStore
	Registry   *validation.Registry
	OpenReader ReaderOpener
	Config     config.ImporterConfig
	Logger     *slog.Logger
}

// ImporterService drives a claimed job to a terminal state: it streams each
// sheet, validates rows, persists valid batches, and records row failures.
// Row-level failures are data, not job failures; a job with ten thousand bad
// rows still completes.
type ImporterService struct {
	jobs       core.JobRepository
	sheets     core.SheetRepository
	errs       core.ErrorRepository
	persister  core.RecordPersister
	files      core.FileStore
	registry   *validation.Registry
	openReader ReaderOpener
	cfg        config.ImporterConfig
	logger     *slog.Logger
}

// NewImporterService constructs a new ImporterService.
func NewImporterService(opts ImporterServiceOptions) (*ImporterService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Sheets == nil {
		return nil, errors.New("SheetRepository is required")
	}
	if opts.Deps.Errors == nil {
		return nil, errors.New("ErrorRepository is required")
	}
	if opts.Deps.Persister == nil {
		return nil, errors.New("RecordPersister is required")
	}
	if opts.Deps.Files == nil {
		return nil, errors.New("FileStore is required")
	}
	if opts.Deps.Registry == nil {
		return nil, errors.New("validation registry is required")
	}
	if opts.Deps.OpenReader == nil {
		return nil, errors.New("reader opener is required")
	}
	logger := opts.Deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Deps.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &ImporterService{
		jobs:       opts.Jobs,
		sheets:     opts.Sheets,
		errs:       opts.Deps.Errors,
		persister:  opts.Deps.Persister,
		files:      opts.Deps.Files,
		registry:   opts.Deps.Registry,
		openReader: opts.Deps.OpenReader,
		cfg:        cfg,
		logger:     logger.With("component", "importer_service"),
	}, nil
}

// ImportJob processes a claimed job to completion. The returned error is nil
// whenever the job reached a terminal state, including failure and
// cancellation; only infrastructure trouble that left the job in limbo
// propagates.
func (s *ImporterService) ImportJob(ctx context.Context, job *model.MigrationJob) error {
	logger := s.logger.With("job_id", job.ID, "file_name", job.FileName)
	logger.InfoContext(ctx, "import started", "total_sheets", job.TotalSheets)

	path, err := s.files.Open(ctx, job.ID)
	if err != nil {
		return s.failJob(ctx, job.ID, "stored workbook is missing", err)
	}
	reader, err := s.openReader(path)
	if err != nil {
		return s.failJob(ctx, job.ID, "workbook could not be opened", err)
	}
	defer func() { _ = reader.Close() }()

	jobSheets, err := s.sheets.ListByJob(ctx, job.ID)
	if err != nil {
		return s.failJob(ctx, job.ID, "sheet metadata could not be loaded", err)
	}

	for _, sheet := range jobSheets {
		halted, sheetErr := s.runSheet(ctx, job, reader, sheet)
		if halted {
			logger.InfoContext(ctx, "import halted", "sheet", sheet.SheetName)
			return nil
		}
		if sheetErr != nil {
			if markErr := s.sheets.MarkFailed(ctx, job.ID, sheet.SheetName); markErr != nil {
				logger.WarnContext(ctx, "mark sheet failed", "sheet", sheet.SheetName, "error", markErr)
			}
			return s.failJob(ctx, job.ID,
				fmt.Sprintf("sheet %q could not be imported", sheet.SheetName), sheetErr)
		}
	}

	if s.cfg.FatalErrorThreshold > 0 {
		fatal, countErr := s.errs.FatalCountByJob(ctx, job.ID)
		if countErr != nil {
			return s.failJob(ctx, job.ID, "fatal error count unavailable", countErr)
		}
		if fatal >= int64(s.cfg.FatalErrorThreshold) {
			logger.WarnContext(ctx, "fatal error threshold exceeded", "fatal_errors", fatal)
			return s.failJob(ctx, job.ID,
				fmt.Sprintf("persistence failures (%d) reached the fatal threshold", fatal), nil)
		}
	}

	if err := s.jobs.Complete(ctx, job.ID); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			// Someone else finished the job; their outcome stands.
			return nil
		}
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if err := s.files.Remove(ctx, job.ID); err != nil {
		logger.WarnContext(ctx, "remove stored workbook", "error", err)
	}
	logger.InfoContext(ctx, "import completed")
	return nil
}

// runSheet imports one sheet. The halted return is true when the job reached
// a terminal state mid-sheet and the importer should stop quietly.
func (s *ImporterService) runSheet(ctx context.Context, job *model.MigrationJob, reader sheets.Reader, sheet *model.MigrationSheet) (bool, error) {
	if halted, err := s.checkpoint(ctx, job.ID); halted || err != nil {
		return halted, err
	}

	if sheet.SheetType == "" {
		return false, fmt.Errorf("%w: sheet %q matches no registered type",
			validation.ErrUnknownSheetType, sheet.SheetName)
	}
	validator, err := s.registry.Resolve(sheet.SheetType)
	if err != nil {
		return false, err
	}

	if err := s.sheets.MarkProcessing(ctx, job.ID, sheet.SheetName); err != nil {
		return false, fmt.Errorf("mark sheet processing: %w", err)
	}

	b := &sheetBatcher{svc: s, job: job, sheet: sheet}
	readErr := reader.ReadRows(ctx, sheet.SheetName, func(rowNumber int64, row sheets.Row) error {
		b.add(rowNumber, row, validator)
		if b.size() >= int64(s.cfg.BatchSize) {
			if err := b.flush(ctx); err != nil {
				return err
			}
			if halted, err := s.checkpoint(ctx, job.ID); halted || err != nil {
				if halted {
					return errJobHalted
				}
				return err
			}
		}
		return nil
	})
	if errors.Is(readErr, errJobHalted) {
		return true, nil
	}
	if readErr != nil {
		return false, fmt.Errorf("read sheet %q: %w", sheet.SheetName, readErr)
	}

	if err := b.flush(ctx); err != nil {
		return false, err
	}
	if err := s.sheets.MarkCompleted(ctx, job.ID, sheet.SheetName); err != nil {
		return false, fmt.Errorf("mark sheet completed: %w", err)
	}

	s.logger.InfoContext(ctx, "sheet imported",
		"job_id", job.ID,
		"sheet", sheet.SheetName,
		"batches", b.batchNumber,
	)
	return false, nil
}

// checkpoint runs at every batch boundary: it heartbeats the job and honors a
// pending cancel request. Cancellation is cooperative; nothing interrupts a
// batch in flight.
func (s *ImporterService) checkpoint(ctx context.Context, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := s.jobs.Heartbeat(ctx, jobID); err != nil {
		if errors.Is(err, model.ErrJobNotRunning) {
			// The job went terminal underneath us (user cancel raced the
			// watchdog, or an operator failed it). Stop quietly.
			return true, nil
		}
		return false, fmt.Errorf("heartbeat job %s: %w", jobID, err)
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.CancelRequested {
		reason := "cancel requested"
		if job.CancelReason != nil {
			reason = *job.CancelReason
		}
		if err := s.jobs.Cancel(ctx, jobID, reason); err != nil && !errors.Is(err, model.ErrInvalidTransition) {
			return false, fmt.Errorf("cancel job %s: %w", jobID, err)
		}
		if err := s.files.Remove(ctx, jobID); err != nil {
			s.logger.WarnContext(ctx, "remove stored workbook", "job_id", jobID, "error", err)
		}
		s.logger.InfoContext(ctx, "job cancelled at batch boundary", "job_id", jobID)
		return true, nil
	}
	return false, nil
}

// failJob moves the job to failed and swallows the original error into the
// job record. Infrastructure errors while failing still propagate.
func (s *ImporterService) failJob(ctx context.Context, jobID, msg string, cause error) error {
	var detail *string
	if cause != nil {
		d := cause.Error()
		detail = &d
	}
	s.logger.ErrorContext(ctx, "import failed", "job_id", jobID, "reason", msg, "error", cause)
	if err := s.jobs.Fail(ctx, jobID, msg, detail); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// sheetBatcher accumulates one batch of rows: valid rows headed for storage
// and error records for the rows that didn't make it.
type sheetBatcher struct {
	svc         *ImporterService
	job         *model.MigrationJob
	sheet       *model.MigrationSheet
	batchNumber int
	processed   int64
	valid       []core.BatchRow
	rowErrs     []*model.MigrationError
}

func (b *sheetBatcher) size() int64 {
	return b.processed
}

func (b *sheetBatcher) add(rowNumber int64, row sheets.Row, validate validation.RowValidator) {
	b.processed++
	res := validate(row, rowNumber)
	if res.Valid() {
		b.valid = append(b.valid, core.BatchRow{RowNumber: rowNumber, Data: row})
		return
	}
	for _, ve := range res.Errors {
		b.rowErrs = append(b.rowErrs, b.newError(rowNumber, row, ve))
	}
}

func (b *sheetBatcher) newError(rowNumber int64, row sheets.Row, ve validation.ValidationError) *model.MigrationError {
	data, err := json.Marshal(map[string]any{"field": ve.Field, "row": row})
	if err != nil {
		data = []byte(`{}`)
	}
	var rule *string
	if ve.Rule != "" {
		r := ve.Rule
		rule = &r
	}
	return &model.MigrationError{
		JobID:          b.job.ID,
		SheetName:      b.sheet.SheetName,
		RowNumber:      rowNumber,
		BatchNumber:    b.batchNumber + 1,
		ErrorCode:      ve.Code,
		ErrorMessage:   ve.Message,
		ErrorData:      data,
		ValidationRule: rule,
	}
}

// flush persists the accumulated batch. A persistence failure demotes every
// valid row in the batch to a PERSIST_FAILURE error record; the job carries
// on. Error records are written outside the batch transaction, so they
// survive the rollback that produced them.
func (b *sheetBatcher) flush(ctx context.Context) error {
	if b.processed == 0 {
		return nil
	}
	b.batchNumber++

	success := int64(len(b.valid))
	if len(b.valid) > 0 {
		err := b.svc.persister.PersistBatch(ctx, core.PersistBatchParams{
			JobID:       b.job.ID,
			TenantID:    b.job.TenantID,
			SheetName:   b.sheet.SheetName,
			SheetType:   b.sheet.SheetType,
			BatchNumber: b.batchNumber,
			Rows:        b.valid,
		})
		if err != nil {
			b.svc.logger.WarnContext(ctx, "batch persist failed",
				"job_id", b.job.ID,
				"sheet", b.sheet.SheetName,
				"batch", b.batchNumber,
				"rows", len(b.valid),
				"error", err,
			)
			success = 0
			detail, merr := json.Marshal(map[string]string{"cause": err.Error()})
			if merr != nil {
				detail = []byte(`{}`)
			}
			for _, row := range b.valid {
				b.rowErrs = append(b.rowErrs, &model.MigrationError{
					JobID:        b.job.ID,
					SheetName:    b.sheet.SheetName,
					RowNumber:    row.RowNumber,
					BatchNumber:  b.batchNumber,
					ErrorCode:    model.ErrorCodePersistFailure,
					ErrorMessage: "row could not be persisted",
					ErrorData:    detail,
				})
			}
		}
	}

	if err := b.svc.errs.BulkInsert(ctx, b.rowErrs); err != nil {
		return fmt.Errorf("record row errors: %w", err)
	}
	if err := b.svc.sheets.AddCounters(ctx, core.AddSheetCountersParams{
		JobID:     b.job.ID,
		SheetName: b.sheet.SheetName,
		Processed: b.processed,
		Success:   success,
		Errors:    b.processed - success,
	}); err != nil {
		return fmt.Errorf("update sheet counters: %w", err)
	}

	b.processed = 0
	b.valid = b.valid[:0]
	b.rowErrs = b.rowErrs[:0]
	return nil
}
