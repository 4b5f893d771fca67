package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/core"
)

// WatchdogServiceOptions groups dependencies for WatchdogService.
type WatchdogServiceOptions struct {
	Repo   core.WatchdogRepository
	Config config.WatchdogConfig
	Logger *slog.Logger
}

// WatchdogService sweeps for jobs whose workers went quiet.
//
// Two sweeps run each interval:
//   - processing jobs without a heartbeat inside the grace window move to
//     stuck; a later heartbeat from a merely slow worker resumes them.
//   - jobs past the absolute runtime ceiling are failed outright.
type WatchdogService struct {
	repo   core.WatchdogRepository
	cfg    config.WatchdogConfig
	logger *slog.Logger
}

// NewWatchdogService constructs a new WatchdogService.
func NewWatchdogService(opts WatchdogServiceOptions) (*WatchdogService, error) {
	if opts.Repo == nil {
		return nil, errors.New("WatchdogRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchdogService{
		repo:   opts.Repo,
		cfg:    opts.Config,
		logger: logger.With("component", "watchdog_service"),
	}, nil
}

// Run starts the watchdog loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *WatchdogService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting watchdog service",
		"interval", s.cfg.Interval,
		"heartbeat_grace", s.cfg.HeartbeatGrace,
		"stuck_timeout", s.cfg.StuckTimeout,
	)

	// Jitter staggers concurrent instances so their advisory-locked sweeps
	// don't all fire in the same instant.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "watchdog service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *WatchdogService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.cfg.Interval / 10)
	if maxJitter <= 0 {
		return
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *WatchdogService) sweep(ctx context.Context) {
	stuck, err := s.repo.MarkStuckJobs(ctx, s.cfg.HeartbeatGrace, s.cfg.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "stuck sweep failed", "error", err)
	} else if len(stuck) > 0 {
		s.logger.WarnContext(ctx, "jobs marked stuck", "count", len(stuck), "job_ids", stuck)
	}

	failed, err := s.repo.FailTimedOutJobs(ctx, s.cfg.StuckTimeout, s.cfg.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "timeout sweep failed", "error", err)
	} else if len(failed) > 0 {
		s.logger.WarnContext(ctx, "jobs failed after timeout", "count", len(failed), "job_ids", failed)
	}
}
