// Package broadcaster provides the adapter that runs the progress
// broadcaster loop.
package broadcaster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/adapters/redispub"
	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/data"
	"github.com/neobrutalism/crm-migration/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Config   config.BroadcasterConfig
	CacheTTL time.Duration
	Logger   *slog.Logger

	// Optional dependency injection for tests/decoupling.
	Jobs      core.JobRepository
	Sheets    core.SheetRepository
	Cache     core.CacheRepository
	Publisher core.Publisher
}

// Runner wires and runs the broadcaster service.
type Runner struct {
	svc    *service.BroadcasterService
	logger *slog.Logger
}

// NewRunner creates a broadcaster runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && (opts.Jobs == nil || opts.Sheets == nil) {
		return nil, errors.New("either DB or repositories must be provided")
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
	cache := opts.Cache
	if cache == nil && opts.Redis != nil {
		cache = data.NewRedisCacheRepo(opts.Redis)
	}
	publisher := opts.Publisher
	if publisher == nil {
		if opts.Redis == nil {
			return nil, errors.New("either Redis or Publisher must be provided")
		}
		var err error
		publisher, err = redispub.NewPublisher(opts.Redis)
		if err != nil {
			return nil, fmt.Errorf("wire publisher: %w", err)
		}
	}

	progress, err := service.NewProgressService(service.ProgressServiceOptions{
		Jobs:   jobs,
		Sheets: sheetRepo,
		Extras: service.ProgressServiceExtras{
			Cache:    cache,
			CacheTTL: opts.CacheTTL,
			Logger:   logger,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wire progress service: %w", err)
	}

	svc, err := service.NewBroadcasterService(service.BroadcasterServiceOptions{
		Jobs:     jobs,
		Progress: progress,
		Extras: service.BroadcasterServiceExtras{
			Publisher: publisher,
			Config:    opts.Config,
			Logger:    logger,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wire broadcaster service: %w", err)
	}

	return &Runner{svc: svc, logger: logger}, nil
}

// Run starts the broadcaster loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting broadcaster runner")
	return r.svc.Run(ctx)
}
