package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

const progressCacheKeyPrefix = "migration:progress:"

// ProgressServiceOptions groups dependencies for ProgressService.
type ProgressServiceOptions struct {
	Jobs   core.JobRepository
	Sheets core.SheetRepository
	Extras ProgressServiceExtras
}

// ProgressServiceExtras groups the secondary dependencies.
type ProgressServiceExtras struct {
	Cache    core.CacheRepository
	CacheTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// ProgressService derives point-in-time progress snapshots from the durable
// job and sheet counters. Snapshots are cached briefly so a burst of clients
// polling the same job costs one set of queries per TTL window.
type ProgressService struct {
	jobs     core.JobRepository
	sheets   core.SheetRepository
	cache    core.CacheRepository
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewProgressService constructs a new ProgressService.
func NewProgressService(opts ProgressServiceOptions) (*ProgressService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Sheets == nil {
		return nil, errors.New("SheetRepository is required")
	}
	ttl := opts.Extras.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	logger := opts.Extras.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Extras.Now
	if now == nil {
		now = time.Now
	}
	return &ProgressService{
		jobs:     opts.Jobs,
		sheets:   opts.Sheets,
		cache:    opts.Extras.Cache,
		cacheTTL: ttl,
		logger:   logger.With("component", "progress_service"),
		now:      now,
	}, nil
}

// Snapshot returns the job's progress, served from cache when a snapshot
// newer than the TTL exists. Reads may trail the true counters by up to the
// TTL; the terminal state eventually appears once the cache entry expires.
func (s *ProgressService) Snapshot(ctx context.Context, jobID string) (*model.ProgressSnapshot, error) {
	if cached := s.fromCache(ctx, jobID); cached != nil {
		return cached, nil
	}
	return s.Refresh(ctx, jobID)
}

// Refresh builds a snapshot from the durable counters, bypassing the cache,
// and stores the result. The broadcaster uses this so its terminal publish
// never shows a stale running status.
func (s *ProgressService) Refresh(ctx context.Context, jobID string) (*model.ProgressSnapshot, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	sheetRows, err := s.sheets.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list sheets for progress: %w", err)
	}

	snap := &model.ProgressSnapshot{
		JobID:       job.ID,
		Status:      job.Status,
		Sheets:      make([]model.SheetProgress, 0, len(sheetRows)),
		GeneratedAt: s.now().UTC(),
	}
	for _, sh := range sheetRows {
		snap.TotalRows += sh.TotalRows
		snap.ProcessedRows += sh.ProcessedRows
		snap.SuccessRows += sh.SuccessRows
		snap.ErrorRows += sh.ErrorRows
		snap.Sheets = append(snap.Sheets, model.SheetProgress{
			SheetName:     sh.SheetName,
			SheetType:     sh.SheetType,
			Status:        sh.Status,
			TotalRows:     sh.TotalRows,
			ProcessedRows: sh.ProcessedRows,
			SuccessRows:   sh.SuccessRows,
			ErrorRows:     sh.ErrorRows,
		})
	}
	snap.ComputePercent()
	snap.EstimateRemaining(job.StartedAt, snap.GeneratedAt)

	s.store(ctx, snap)
	return snap, nil
}

func (s *ProgressService) fromCache(ctx context.Context, jobID string) *model.ProgressSnapshot {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, progressCacheKeyPrefix+jobID)
	if err != nil {
		s.logger.WarnContext(ctx, "progress cache read failed", "job_id", jobID, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var snap model.ProgressSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.WarnContext(ctx, "progress cache entry corrupt", "job_id", jobID, "error", err)
		return nil
	}
	return &snap
}

func (s *ProgressService) store(ctx context.Context, snap *model.ProgressSnapshot) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, progressCacheKeyPrefix+snap.JobID, raw, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "progress cache write failed", "job_id", snap.JobID, "error", err)
	}
}
