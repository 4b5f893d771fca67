package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/neobrutalism/crm-migration/internal/core"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// fakeJobRepo is an in-memory JobRepository that mirrors the conditional
// transition semantics of the real one.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.MigrationJob

	// stateCh, when set, feeds WaitForStateChange.
	stateCh chan string

	getCalls int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*model.MigrationJob)}
}

func (f *fakeJobRepo) addJob(id string, status model.JobStatus) *model.MigrationJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	job := &model.MigrationJob{
		ID:          id,
		TenantID:    "tenant-1",
		FileName:    id + ".xlsx",
		FileHash:    "hash-" + id,
		TotalSheets: 1,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == model.JobStatusProcessing || status == model.JobStatusStuck {
		job.StartedAt = &now
		job.LastHeartbeat = &now
	}
	f.jobs[id] = job
	return job
}

func (f *fakeJobRepo) get(id string) (*model.MigrationJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

func (f *fakeJobRepo) Submit(_ context.Context, req *model.SubmitJobRequest) (*model.MigrationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.TenantID == req.TenantID && job.FileHash == req.FileHash && !job.Status.Terminal() {
			return job, model.ErrDuplicateFile
		}
	}
	now := time.Now().UTC()
	job := &model.MigrationJob{
		ID:          fmt.Sprintf("job-%d", len(f.jobs)+1),
		TenantID:    req.TenantID,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		FileHash:    req.FileHash,
		TotalSheets: len(req.Sheets),
		Status:      model.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id string) (*model.MigrationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	job, err := f.get(id)
	if err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) List(_ context.Context, _ model.JobListOptions) ([]*model.MigrationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.MigrationJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeJobRepo) Stats(_ context.Context) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (f *fakeJobRepo) ActiveJobIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, job := range f.jobs {
		if !job.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeJobRepo) Claim(_ context.Context, jobID string) (*model.MigrationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusPending {
		return nil, fmt.Errorf("%w: %s -> processing", model.ErrInvalidTransition, job.Status)
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusProcessing
	job.StartedAt = &now
	job.LastHeartbeat = &now
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) ClaimNext(_ context.Context) (*model.MigrationJob, error) {
	return nil, model.ErrNoJobsAvailable
}

func (f *fakeJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeJobRepo) WaitForStateChange(ctx context.Context) (string, error) {
	if f.stateCh != nil {
		select {
		case id := <-f.stateCh:
			return id, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func (f *fakeJobRepo) Heartbeat(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.get(jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusProcessing && job.Status != model.JobStatusStuck {
		return fmt.Errorf("%w: status %s", model.ErrJobNotRunning, job.Status)
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusProcessing
	job.LastHeartbeat = &now
	return nil
}

func (f *fakeJobRepo) terminal(jobID string, target model.JobStatus, froms ...model.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.get(jobID)
	if err != nil {
		return err
	}
	for _, from := range froms {
		if job.Status == from {
			now := time.Now().UTC()
			job.Status = target
			job.CompletedAt = &now
			return nil
		}
	}
	if job.Status == target {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, job.Status, target)
}

func (f *fakeJobRepo) Complete(_ context.Context, jobID string) error {
	return f.terminal(jobID, model.JobStatusCompleted, model.JobStatusProcessing)
}

func (f *fakeJobRepo) Fail(_ context.Context, jobID string, errMsg string, detail *string) error {
	if err := f.terminal(jobID, model.JobStatusFailed, model.JobStatusProcessing, model.JobStatusStuck); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.ErrorMessage = &errMsg
	job.ErrorDetail = detail
	return nil
}

func (f *fakeJobRepo) Cancel(_ context.Context, jobID string, reason string) error {
	if err := f.terminal(jobID, model.JobStatusCancelled,
		model.JobStatusPending, model.JobStatusProcessing, model.JobStatusStuck); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].CancelReason = &reason
	return nil
}

func (f *fakeJobRepo) RequestCancel(ctx context.Context, jobID string, reason string) (*model.MigrationJob, error) {
	f.mu.Lock()
	job, err := f.get(jobID)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if job.Status == model.JobStatusPending {
		f.mu.Unlock()
		if err := f.Cancel(ctx, jobID, reason); err != nil {
			return nil, err
		}
		return f.GetByID(ctx, jobID)
	}
	if !job.Status.Terminal() {
		job.CancelRequested = true
		job.CancelReason = &reason
	}
	cp := *job
	f.mu.Unlock()
	return &cp, nil
}

func (f *fakeJobRepo) setCancelRequested(jobID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.CancelRequested = true
	job.CancelReason = &reason
}

func (f *fakeJobRepo) status(jobID string) model.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID].Status
}

// fakeSheetRepo keeps sheet rows in declaration order.
type fakeSheetRepo struct {
	mu     sync.Mutex
	sheets map[string][]*model.MigrationSheet
}

func newFakeSheetRepo() *fakeSheetRepo {
	return &fakeSheetRepo{sheets: make(map[string][]*model.MigrationSheet)}
}

func (f *fakeSheetRepo) addSheet(jobID, name, sheetType string, totalRows int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[jobID] = append(f.sheets[jobID], &model.MigrationSheet{
		JobID:     jobID,
		Position:  len(f.sheets[jobID]),
		SheetName: name,
		SheetType: sheetType,
		Status:    model.SheetStatusPending,
		TotalRows: totalRows,
	})
}

func (f *fakeSheetRepo) find(jobID, name string) (*model.MigrationSheet, error) {
	for _, sh := range f.sheets[jobID] {
		if sh.SheetName == name {
			return sh, nil
		}
	}
	return nil, fmt.Errorf("sheet %q not found", name)
}

func (f *fakeSheetRepo) ListByJob(_ context.Context, jobID string) ([]*model.MigrationSheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.MigrationSheet, 0, len(f.sheets[jobID]))
	for _, sh := range f.sheets[jobID] {
		cp := *sh
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeSheetRepo) setStatus(jobID, name string, status model.SheetStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sh, err := f.find(jobID, name)
	if err != nil {
		return err
	}
	sh.Status = status
	return nil
}

func (f *fakeSheetRepo) MarkProcessing(_ context.Context, jobID, name string) error {
	return f.setStatus(jobID, name, model.SheetStatusProcessing)
}

func (f *fakeSheetRepo) MarkCompleted(_ context.Context, jobID, name string) error {
	return f.setStatus(jobID, name, model.SheetStatusCompleted)
}

func (f *fakeSheetRepo) MarkFailed(_ context.Context, jobID, name string) error {
	return f.setStatus(jobID, name, model.SheetStatusFailed)
}

func (f *fakeSheetRepo) AddCounters(_ context.Context, params core.AddSheetCountersParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sh, err := f.find(params.JobID, params.SheetName)
	if err != nil {
		return err
	}
	sh.ProcessedRows += params.Processed
	sh.SuccessRows += params.Success
	sh.ErrorRows += params.Errors
	return nil
}

// fakeErrorRepo appends into a slice.
type fakeErrorRepo struct {
	mu      sync.Mutex
	records []*model.MigrationError
}

func (f *fakeErrorRepo) BulkInsert(_ context.Context, errs []*model.MigrationError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, errs...)
	return nil
}

func (f *fakeErrorRepo) ListByJob(_ context.Context, opts model.ErrorListOptions) ([]*model.MigrationError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.MigrationError
	for _, rec := range f.records {
		if rec.JobID == opts.JobID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeErrorRepo) CountByJob(_ context.Context, jobID string, _ model.ErrorFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rec := range f.records {
		if rec.JobID == jobID {
			n++
		}
	}
	return n, nil
}

func (f *fakeErrorRepo) FatalCountByJob(_ context.Context, jobID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rec := range f.records {
		if rec.JobID == jobID && rec.ErrorCode == model.ErrorCodePersistFailure {
			n++
		}
	}
	return n, nil
}

func (f *fakeErrorRepo) byCode(code string) []*model.MigrationError {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.MigrationError
	for _, rec := range f.records {
		if rec.ErrorCode == code {
			out = append(out, rec)
		}
	}
	return out
}

// fakePersister records batches and can be told to fail.
type fakePersister struct {
	mu      sync.Mutex
	batches []core.PersistBatchParams
	failAll bool

	// afterFlush runs after each successful persist, outside the lock.
	afterFlush func(batch core.PersistBatchParams)
}

func (f *fakePersister) PersistBatch(_ context.Context, params core.PersistBatchParams) error {
	if f.failAll {
		return errors.New("storage unavailable")
	}
	f.mu.Lock()
	f.batches = append(f.batches, params)
	f.mu.Unlock()
	if f.afterFlush != nil {
		f.afterFlush(params)
	}
	return nil
}

func (f *fakePersister) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b.Rows)
	}
	return n
}

// fakeFileStore tracks which job IDs have a stored workbook.
type fakeFileStore struct {
	mu    sync.Mutex
	files map[string]string
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[string]string)}
}

func (f *fakeFileStore) Save(_ context.Context, params core.SaveFileParams) (*core.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := "/mem/" + params.JobID
	f.files[params.JobID] = path
	return &core.StoredFile{Path: path, Size: 64, Hash: "hash-" + params.FileName}, nil
}

func (f *fakeFileStore) Open(_ context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.files[jobID]
	if !ok {
		return "", errors.New("file not found")
	}
	return path, nil
}

func (f *fakeFileStore) Rename(_ context.Context, oldID, newID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.files[oldID]
	if !ok {
		return errors.New("file not found")
	}
	delete(f.files, oldID)
	f.files[newID] = path
	return nil
}

func (f *fakeFileStore) Remove(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, jobID)
	return nil
}

func (f *fakeFileStore) has(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[jobID]
	return ok
}

// fakeCache is a TTL-less in-memory cache.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.sets++
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func (f *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	delete(f.data, key)
	return ok, nil
}

func (f *fakeCache) Health(_ context.Context) error { return nil }

// fakePublisher records published snapshots in order.
type fakePublisher struct {
	mu       sync.Mutex
	snaps    []*model.ProgressSnapshot
	failNext bool
}

func (f *fakePublisher) PublishProgress(_ context.Context, snap *model.ProgressSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("publish failed")
	}
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakePublisher) published(jobID string) []*model.ProgressSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ProgressSnapshot
	for _, s := range f.snaps {
		if s.JobID == jobID {
			out = append(out, s)
		}
	}
	return out
}

// fakeWatchdogRepo records sweep arguments.
type fakeWatchdogRepo struct {
	mu          sync.Mutex
	graces      []time.Duration
	timeouts    []time.Duration
	batchSizes  []int
	stuckIDs    []string
	timedOutIDs []string
}

func (f *fakeWatchdogRepo) MarkStuckJobs(_ context.Context, grace time.Duration, batchSize int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graces = append(f.graces, grace)
	f.batchSizes = append(f.batchSizes, batchSize)
	return f.stuckIDs, nil
}

func (f *fakeWatchdogRepo) FailTimedOutJobs(_ context.Context, timeout time.Duration, batchSize int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, timeout)
	return f.timedOutIDs, nil
}
