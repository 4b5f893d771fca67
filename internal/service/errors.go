package service

import (
	"context"
	"errors"

	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// ErrorServiceOptions groups dependencies for ErrorService.
type ErrorServiceOptions struct {
	Errors core.ErrorRepository
	Jobs   core.JobRepository
}

// ErrorService exposes a job's row-level error records.
type ErrorService struct {
	errs core.ErrorRepository
	jobs core.JobRepository
}

// NewErrorService constructs a new ErrorService.
func NewErrorService(opts ErrorServiceOptions) (*ErrorService, error) {
	if opts.Errors == nil {
		return nil, errors.New("ErrorRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	return &ErrorService{errs: opts.Errors, jobs: opts.Jobs}, nil
}

// List pages through a job's errors. The job is looked up first so a missing
// job surfaces as not-found rather than an empty page.
func (s *ErrorService) List(ctx context.Context, opts model.ErrorListOptions) ([]*model.MigrationError, error) {
	if _, err := s.jobs.GetByID(ctx, opts.JobID); err != nil {
		return nil, err
	}
	return s.errs.ListByJob(ctx, opts)
}

// Count returns the number of a job's errors matching the filter.
func (s *ErrorService) Count(ctx context.Context, jobID string, filter model.ErrorFilter) (int64, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return 0, err
	}
	return s.errs.CountByJob(ctx, jobID, filter)
}
