package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/adapters/broadcaster"
	"github.com/neobrutalism/crm-migration/internal/adapters/importer"
	"github.com/neobrutalism/crm-migration/internal/adapters/watchdog"
	"github.com/neobrutalism/crm-migration/internal/data"
)

// ImporterRunnerConfig contains configuration for the batch importer.
type ImporterRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ImporterConfig
	DataDir string
}

// RunImporter starts the batch importer worker pool.
func RunImporter(ctx context.Context, cfg ImporterRunnerConfig) error {
	files, err := data.NewDiskFileStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("create file store: %w", err)
	}

	runner, err := importer.NewRunner(importer.RunnerOptions{
		DB:     cfg.DB,
		Config: cfg.Config,
		Logger: cfg.Logger,
		Files:  files,
	})
	if err != nil {
		return fmt.Errorf("create importer runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run importer runner: %w", runErr)
	}
	return nil
}

// BroadcasterRunnerConfig contains configuration for the progress broadcaster.
type BroadcasterRunnerConfig struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Config      config.BroadcasterConfig
	CacheTTL    time.Duration
}

// RunBroadcaster starts the periodic progress broadcaster.
func RunBroadcaster(ctx context.Context, cfg BroadcasterRunnerConfig) error {
	runner, err := broadcaster.NewRunner(broadcaster.RunnerOptions{
		DB:       cfg.DB,
		Redis:    cfg.RedisClient,
		Config:   cfg.Config,
		CacheTTL: cfg.CacheTTL,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create broadcaster runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run broadcaster runner: %w", runErr)
	}
	return nil
}

// WatchdogRunnerConfig contains configuration for the stuck-job watchdog.
type WatchdogRunnerConfig struct {
	DB     *sql.DB
	Logger *slog.Logger
	Config config.WatchdogConfig
}

// RunWatchdog starts the stuck-job watchdog sweeper.
func RunWatchdog(ctx context.Context, cfg WatchdogRunnerConfig) error {
	runner, err := watchdog.NewRunner(watchdog.RunnerOptions{
		DB:     cfg.DB,
		Config: cfg.Config,
		Logger: cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create watchdog runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run watchdog runner: %w", runErr)
	}
	return nil
}
