// Package importer runs the worker pool that claims and imports jobs.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/data"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/service"
	"github.com/neobrutalism/crm-migration/internal/sheets"
	"github.com/neobrutalism/crm-migration/internal/validation"
)

// pollInterval bounds how long an idle worker waits when a pg_notify wakeup
// is lost.
const pollInterval = 30 * time.Second

// RunnerOptions configures the importer runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ImporterConfig
	Logger *slog.Logger

	// Optional dependency injection for tests/decoupling.
	Jobs      core.JobRepository
	Sheets    core.SheetRepository
	Errors    core.ErrorRepository
	Persister core.RecordPersister
	Files     core.FileStore
	Registry  *validation.Registry
}

// Runner claims pending jobs and drives them through the importer service.
type Runner struct {
	jobs     core.JobRepository
	importer *service.ImporterService
	logger   *slog.Logger
	workers  int
}

// NewRunner wires repositories and constructs an importer runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && (opts.Jobs == nil || opts.Sheets == nil || opts.Errors == nil || opts.Persister == nil) {
		return nil, errors.New("either DB or all repositories must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewJobRepo(opts.DB, data.JobRepoConfig{Logger: logger})
	}
	sheetRepo := opts.Sheets
	if sheetRepo == nil {
		sheetRepo = data.NewSheetRepo(opts.DB, nil)
	}
	errRepo := opts.Errors
	if errRepo == nil {
		errRepo = data.NewErrorRepo(opts.DB, nil)
	}
	persister := opts.Persister
	if persister == nil {
		persister = data.NewStagingPersister(opts.DB, nil)
	}
	files := opts.Files
	if files == nil {
		var err error
		files, err = data.NewDiskFileStore("./data/uploads")
		if err != nil {
			return nil, fmt.Errorf("create file store: %w", err)
		}
	}
	registry := opts.Registry
	if registry == nil {
		registry = validation.DefaultRegistry()
	}

	importerSvc, err := service.NewImporterService(service.ImporterServiceOptions{
		Jobs:   jobs,
		Sheets: sheetRepo,
		Deps: service.ImporterServiceDeps{
			Errors:    errRepo,
			Persister: persister,
			Files:     files,
			Registry:  registry,
			OpenReader: func(path string) (sheets.Reader, error) {
				return sheets.OpenExcel(path)
			},
			Config: opts.Config,
			Logger: logger,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wire importer service: %w", err)
	}

	workers := opts.Config.Concurrency
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		jobs:     jobs,
		importer: importerSvc,
		logger:   logger.With("component", "importer_runner"),
		workers:  workers,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled. Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting importer runner", "workers", r.workers)

	g, ctx := errgroup.WithContext(ctx)
	notify := r.subscribe(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.workerLoop(ctx, notify)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// subscribe fans LISTEN wakeups out to the workers. The channel has a buffer
// of one; a wakeup that arrives while all workers are busy is coalesced into
// the next idle check.
func (r *Runner) subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		for ctx.Err() == nil {
			if err := r.jobs.WaitForNotification(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.WarnContext(ctx, "job notification wait failed", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ClaimNext(ctx)
		switch {
		case err == nil:
			if impErr := r.importer.ImportJob(ctx, job); impErr != nil {
				r.logger.ErrorContext(ctx, "import aborted",
					"job_id", job.ID,
					"error", impErr,
				)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForWork(ctx, notify) {
				return nil
			}
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("claim next: %w", err)
		}
	}
	return nil
}

// waitForWork blocks until a submission wakeup, a poll tick, or shutdown.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	case <-timer.C:
		return true
	}
}
