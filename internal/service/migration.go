// Package service provides the business logic layer for the migration
// pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/sheets"
	"github.com/neobrutalism/crm-migration/internal/validation"
)

// ReaderOpener opens a stored workbook for streaming.
type ReaderOpener func(path string) (sheets.Reader, error)

// MigrationServiceOptions groups dependencies for MigrationService.
type MigrationServiceOptions struct {
	Jobs   core.JobRepository
	Files  core.FileStore
	Extras MigrationServiceExtras
}

// MigrationServiceExtras groups the secondary dependencies.
type MigrationServiceExtras struct {
	Registry   *validation.Registry
	OpenReader ReaderOpener
	Logger     *slog.Logger
}

// MigrationService handles workbook submission and job lifecycle actions
// driven by users.
type MigrationService struct {
	jobs       core.JobRepository
	files      core.FileStore
	registry   *validation.Registry
	openReader ReaderOpener
	logger     *slog.Logger
}

// NewMigrationService constructs a new MigrationService.
func NewMigrationService(opts MigrationServiceOptions) (*MigrationService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Files == nil {
		return nil, errors.New("FileStore is required")
	}
	if opts.Extras.Registry == nil {
		return nil, errors.New("validation registry is required")
	}
	if opts.Extras.OpenReader == nil {
		return nil, errors.New("reader opener is required")
	}
	logger := opts.Extras.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationService{
		jobs:       opts.Jobs,
		files:      opts.Files,
		registry:   opts.Extras.Registry,
		openReader: opts.Extras.OpenReader,
		logger:     logger.With("component", "migration_service"),
	}, nil
}

// SubmitUpload stores the uploaded workbook, scans its sheet metadata, and
// registers the job. The upload is hashed as it is written; if the same
// content already has a live job, the stored copy is discarded and the
// existing job is returned along with model.ErrDuplicateFile.
func (s *MigrationService) SubmitUpload(ctx context.Context, params SubmitUploadParams) (*model.MigrationJob, error) {
	if params.FileName == "" {
		return nil, errors.New("file name is required")
	}

	// The upload is written under a provisional ID first; the hash needed
	// for dedup only exists once the bytes have been streamed to disk.
	stored, err := s.files.Save(ctx, core.SaveFileParams{
		JobID:    params.StagingID,
		FileName: params.FileName,
		Reader:   params.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	sheetInfos, scanErr := s.scanSheets(ctx, stored.Path)
	if scanErr != nil {
		_ = s.files.Remove(ctx, params.StagingID)
		return nil, scanErr
	}

	job, submitErr := s.jobs.Submit(ctx, &model.SubmitJobRequest{
		TenantID: params.TenantID,
		FileName: params.FileName,
		FileSize: stored.Size,
		FileHash: stored.Hash,
		Sheets:   sheetInfos,
	})
	if submitErr != nil {
		_ = s.files.Remove(ctx, params.StagingID)
		if errors.Is(submitErr, model.ErrDuplicateFile) {
			s.logger.InfoContext(ctx, "duplicate upload ignored",
				"file_name", params.FileName,
				"existing_job_id", job.ID,
			)
			return job, submitErr
		}
		return nil, submitErr
	}

	// Re-home the upload under the real job ID so the importer finds it.
	if err := s.files.Rename(ctx, params.StagingID, job.ID); err != nil {
		return nil, fmt.Errorf("store upload under job id: %w", err)
	}

	s.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"file_name", params.FileName,
		"file_size", stored.Size,
		"sheets", len(sheetInfos),
	)
	return job, nil
}

// SubmitUploadParams groups parameters for SubmitUpload.
type SubmitUploadParams struct {
	TenantID  string
	FileName  string
	StagingID string
	Body      io.Reader
}

// scanSheets reads the workbook's tab list and resolves each tab to a sheet
// type. Unknown tabs are still recorded so the importer can report them.
func (s *MigrationService) scanSheets(ctx context.Context, path string) ([]model.SheetInfo, error) {
	reader, err := s.openReader(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = reader.Close() }()

	tabs, err := reader.Sheets()
	if err != nil {
		return nil, fmt.Errorf("scan workbook: %w", err)
	}
	if len(tabs) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	infos := make([]model.SheetInfo, 0, len(tabs))
	for _, tab := range tabs {
		infos = append(infos, model.SheetInfo{
			Name:      tab.Name,
			SheetType: s.registry.Detect(tab.Name),
			TotalRows: tab.TotalRows,
		})
	}
	return infos, nil
}

// GetJob returns a job by ID.
func (s *MigrationService) GetJob(ctx context.Context, jobID string) (*model.MigrationJob, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// ListJobs returns jobs matching the filters.
func (s *MigrationService) ListJobs(ctx context.Context, opts model.JobListOptions) ([]*model.MigrationJob, error) {
	return s.jobs.List(ctx, opts)
}

// Stats returns counts of jobs per status.
func (s *MigrationService) Stats(ctx context.Context) (*model.JobStats, error) {
	return s.jobs.Stats(ctx)
}

// RequestCancel asks a job to stop. Pending jobs cancel immediately; running
// jobs stop at their next batch boundary.
func (s *MigrationService) RequestCancel(ctx context.Context, jobID, reason string) (*model.MigrationJob, error) {
	job, err := s.jobs.RequestCancel(ctx, jobID, reason)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "cancel requested", "job_id", jobID, "status", job.Status)
	return job, nil
}
