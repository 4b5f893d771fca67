package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/data"
	"github.com/neobrutalism/crm-migration/internal/service"
	"github.com/neobrutalism/crm-migration/internal/sheets"
	"github.com/neobrutalism/crm-migration/internal/validation"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Migrations *service.MigrationService
	Progress   *service.ProgressService
	Errors     *service.ErrorService
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB        *sql.DB
	Redis     redis.UniversalClient
	JobRepo   *data.JobRepo
	SheetRepo *data.SheetRepo
	ErrorRepo *data.ErrorRepo
	CacheRepo *data.RedisCacheRepo
	FileStore *data.DiskFileStore
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(deps *ServiceDeps) (*serviceRepositories, error) {
	dataDir := ""
	if deps.Config != nil {
		dataDir = deps.Config.Upload.DataDir
	}
	fileStore, err := data.NewDiskFileStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("create file store: %w", err)
	}

	return &serviceRepositories{
		DB:        deps.DB,
		Redis:     deps.RedisClient,
		JobRepo:   data.NewJobRepo(deps.DB, data.JobRepoConfig{Logger: deps.Logger}),
		SheetRepo: data.NewSheetRepo(deps.DB, nil),
		ErrorRepo: data.NewErrorRepo(deps.DB, nil),
		CacheRepo: data.NewRedisCacheRepo(deps.RedisClient),
		FileStore: fileStore,
	}, nil
}

func openWorkbook(path string) (sheets.Reader, error) {
	return sheets.OpenExcel(path)
}

func newMigrationService(repos *serviceRepositories, logger *slog.Logger) (*service.MigrationService, error) {
	return service.NewMigrationService(service.MigrationServiceOptions{
		Jobs:  repos.JobRepo,
		Files: repos.FileStore,
		Extras: service.MigrationServiceExtras{
			Registry:   validation.DefaultRegistry(),
			OpenReader: openWorkbook,
			Logger:     logger,
		},
	})
}

func newProgressService(repos *serviceRepositories, cacheCfg config.CacheConfig, logger *slog.Logger) (*service.ProgressService, error) {
	return service.NewProgressService(service.ProgressServiceOptions{
		Jobs:   repos.JobRepo,
		Sheets: repos.SheetRepo,
		Extras: service.ProgressServiceExtras{
			Cache:    repos.CacheRepo,
			CacheTTL: cacheCfg.ProgressTTL,
			Logger:   logger,
		},
	})
}

// NewServices wires domain services from shared infrastructure.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cacheCfg := config.CacheConfig{}
	if deps.Config != nil {
		cacheCfg = deps.Config.Cache
	}

	repos, err := buildRepositories(deps)
	if err != nil {
		return ServiceContainer{}, err
	}

	migrationSvc, err := newMigrationService(repos, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create migration service: %w", err)
	}
	progressSvc, err := newProgressService(repos, cacheCfg, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create progress service: %w", err)
	}
	errorSvc, err := service.NewErrorService(service.ErrorServiceOptions{
		Errors: repos.ErrorRepo,
		Jobs:   repos.JobRepo,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create error service: %w", err)
	}

	return ServiceContainer{
		Migrations: migrationSvc,
		Progress:   progressSvc,
		Errors:     errorSvc,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newImporterBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeImporter,
		name: "importer",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var importerCfg config.ImporterConfig
			var uploadCfg config.UploadConfig
			if deps.cfg.Config != nil {
				importerCfg = deps.cfg.Config.Importer
				uploadCfg = deps.cfg.Config.Upload
			}
			return RunImporter(ctx, ImporterRunnerConfig{
				DB:      deps.cfg.DB,
				Logger:  deps.logger,
				Config:  importerCfg,
				DataDir: uploadCfg.DataDir,
			})
		},
	}
}

func newBroadcasterBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeBroadcaster,
		name: "broadcaster",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var broadcasterCfg config.BroadcasterConfig
			var cacheCfg config.CacheConfig
			if deps.cfg.Config != nil {
				broadcasterCfg = deps.cfg.Config.Broadcaster
				cacheCfg = deps.cfg.Config.Cache
			}
			return RunBroadcaster(ctx, BroadcasterRunnerConfig{
				DB:          deps.cfg.DB,
				RedisClient: deps.cfg.RedisClient,
				Logger:      deps.logger,
				Config:      broadcasterCfg,
				CacheTTL:    cacheCfg.ProgressTTL,
			})
		},
	}
}

func newWatchdogBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWatchdog,
		name: "watchdog",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var watchdogCfg config.WatchdogConfig
			if deps.cfg.Config != nil {
				watchdogCfg = deps.cfg.Config.Watchdog
			}
			return RunWatchdog(ctx, WatchdogRunnerConfig{
				DB:     deps.cfg.DB,
				Logger: deps.logger,
				Config: watchdogCfg,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newImporterBackgroundService(deps),
		newBroadcasterBackgroundService(deps),
		newWatchdogBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer shutdownCancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
