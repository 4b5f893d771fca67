// Package watchdog provides the adapter that runs the stuck-job watchdog.
package watchdog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/data"
	"github.com/neobrutalism/crm-migration/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.WatchdogConfig
	Logger *slog.Logger

	// Optional dependency injection for tests/decoupling.
	Repo core.WatchdogRepository
}

// Runner wires and runs the watchdog service.
type Runner struct {
	svc    *service.WatchdogService
	logger *slog.Logger
}

// NewRunner creates a watchdog runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.Repo == nil {
		return nil, errors.New("either DB or Repo must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewJobRepo(opts.DB, data.JobRepoConfig{Logger: logger})
	}

	svc, err := service.NewWatchdogService(service.WatchdogServiceOptions{
		Repo:   repo,
		Config: opts.Config,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire watchdog service: %w", err)
	}
	return &Runner{svc: svc, logger: logger}, nil
}

// Run starts the watchdog loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting watchdog runner")
	return r.svc.Run(ctx)
}
