package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/core"
)

// BroadcasterServiceOptions groups dependencies for BroadcasterService.
type BroadcasterServiceOptions struct {
	Jobs     core.JobRepository
	Progress *ProgressService
	Extras   BroadcasterServiceExtras
}

// BroadcasterServiceExtras groups the secondary dependencies.
type BroadcasterServiceExtras struct {
	Publisher core.Publisher
	Config    config.BroadcasterConfig
	Logger    *slog.Logger
}

// BroadcasterService pushes progress snapshots to subscribers on a fixed
// cadence. It tracks which jobs were active on the previous tick so that a
// job's terminal snapshot is published exactly once more after it leaves the
// active set.
type BroadcasterService struct {
	jobs      core.JobRepository
	progress  *ProgressService
	publisher core.Publisher
	cfg       config.BroadcasterConfig
	logger    *slog.Logger

	active map[string]struct{}
}

// NewBroadcasterService constructs a new BroadcasterService.
func NewBroadcasterService(opts BroadcasterServiceOptions) (*BroadcasterService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Progress == nil {
		return nil, errors.New("ProgressService is required")
	}
	if opts.Extras.Publisher == nil {
		return nil, errors.New("Publisher is required")
	}
	cfg := opts.Extras.Config
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	logger := opts.Extras.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcasterService{
		jobs:      opts.Jobs,
		progress:  opts.Progress,
		publisher: opts.Extras.Publisher,
		cfg:       cfg,
		logger:    logger.With("component", "broadcaster_service"),
		active:    make(map[string]struct{}),
	}, nil
}

// Run broadcasts until the context is cancelled. Returns nil on graceful
// shutdown.
func (s *BroadcasterService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting broadcaster service", "interval", s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	stateCh := s.subscribeStateChanges(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "broadcaster service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case jobID := <-stateCh:
			// A terminal transition was announced; publish the final snapshot
			// now instead of waiting out the tick, and drop the job from the
			// active set so the next tick does not publish it again.
			s.publish(ctx, jobID)
			delete(s.active, jobID)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// subscribeStateChanges forwards terminal-transition announcements to the
// run loop. Announcements are best effort; a job whose notification is lost
// is still published by the active-set diff on the next tick.
func (s *BroadcasterService) subscribeStateChanges(ctx context.Context) <-chan string {
	ch := make(chan string, 8)
	go func() {
		for ctx.Err() == nil {
			jobID, err := s.jobs.WaitForStateChange(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.WarnContext(ctx, "state change wait failed", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case ch <- jobID:
			default:
			}
		}
	}()
	return ch
}

// tick publishes a snapshot for every active job, plus one final snapshot for
// each job that went terminal since the last tick.
func (s *BroadcasterService) tick(ctx context.Context) {
	ids, err := s.jobs.ActiveJobIDs(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "list active jobs failed", "error", err)
		return
	}

	current := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		current[id] = struct{}{}
		s.publish(ctx, id)
	}

	// Jobs that disappeared from the active set get their terminal snapshot
	// published once more, so subscribers always see the final state.
	for id := range s.active {
		if _, still := current[id]; !still {
			s.publish(ctx, id)
		}
	}
	s.active = current
}

func (s *BroadcasterService) publish(ctx context.Context, jobID string) {
	// Refresh bypasses the snapshot cache: a terminal publish must never
	// carry a stale running status.
	snap, err := s.progress.Refresh(ctx, jobID)
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot failed", "job_id", jobID, "error", err)
		return
	}
	if err := s.publisher.PublishProgress(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "publish failed", "job_id", jobID, "error", err)
	}
}
