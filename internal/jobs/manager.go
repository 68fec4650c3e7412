package jobs

import (
	"context"
	"errors"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/streamdl/streamdl/pkg/log"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// Manager owns the job records and the mapping from job id to in-flight
// execution. All record mutations are serialized through its mutex; reads
// return snapshots and never block on a running download.
type Manager struct {
	store  Store
	runner Runner
	sem    *semaphore.Weighted

	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	started bool

	wg sync.WaitGroup
}

func NewManager(store Store, runner Runner, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	m := &Manager{
		store:   store,
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}
	m.hydrateFromStore(context.Background())
	return m
}

// Start launches executors for jobs left pending by a previous process and
// enables executor launch on subsequent submissions.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true

	pending := make([]string, 0)
	for id, job := range m.jobs {
		if job.Status == StatusPending {
			pending = append(pending, id)
		}
	}
	m.mu.Unlock()

	for _, id := range pending {
		m.launch(id)
	}
}

// Stop cancels every in-flight executor and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.cancels))
	for _, cancel := range m.cancels {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}

// Submit validates the request, persists a pending record and hands it to
// an executor. It returns without waiting on any network activity.
func (m *Manager) Submit(ctx context.Context, owner, rawURL, rawKind string) (*Job, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, NewError(ErrInvalidInput, "owner is required")
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, NewError(ErrInvalidInput, "url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewError(ErrInvalidInput, "url must be a valid http(s) address")
	}
	kind, err := ParseKind(rawKind)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Owner:     owner,
		URL:       rawURL,
		Kind:      kind,
		Status:    StatusPending,
		Progress:  0,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	started := m.started
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(ctx, snapshot)
	if started {
		m.launch(job.ID)
	}
	return snapshot, nil
}

// GetStatus returns the latest committed snapshot for the caller's job.
func (m *Manager) GetStatus(_ context.Context, jobID, owner string) (StatusView, error) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	if !ok || job.Owner != owner {
		m.mu.RUnlock()
		return StatusView{}, NewError(ErrNotFound, "download job not found")
	}
	view := statusViewOf(job)
	m.mu.RUnlock()
	return view, nil
}

// Cancel signals the running executor to stop and transitions the record to
// cancelled. Cancelling an already-terminal job is a benign no-op.
func (m *Manager) Cancel(ctx context.Context, jobID, owner string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Owner != owner {
		m.mu.Unlock()
		return NewError(ErrNotFound, "download job not found")
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	m.completeLocked(job, StatusCancelled, "cancelled by user")
	cancel := m.cancels[jobID]
	snapshot := cloneJob(job)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.persistJob(ctx, snapshot)
	return nil
}

// FetchResult resolves the finished artifact for streaming. It fails with
// InvalidState unless the job is done.
func (m *Manager) FetchResult(_ context.Context, jobID, owner string) (Artifact, error) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	if !ok || job.Owner != owner {
		m.mu.RUnlock()
		return Artifact{}, NewError(ErrNotFound, "download job not found")
	}
	status := job.Status
	path := job.ArtifactPath
	name := job.ArtifactName
	m.mu.RUnlock()

	if status != StatusDone {
		return Artifact{}, NewError(ErrInvalidState, "download is not complete")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, WrapError(err, ErrNotFound, "artifact is no longer available")
	}
	return Artifact{
		Path:    path,
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// History returns the owner's records newest first. Out-of-range pages
// yield an empty item list with the true total.
func (m *Manager) History(_ context.Context, owner string, page, limit int) HistoryPage {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	m.mu.RLock()
	owned := make([]*Job, 0)
	for _, job := range m.jobs {
		if job.Owner == owner {
			owned = append(owned, cloneJob(job))
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(owned)

	total := len(owned)
	offset := (page - 1) * limit
	items := make([]HistoryItem, 0, limit)
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		for _, job := range owned[offset:end] {
			items = append(items, historyItemOf(job))
		}
	}
	return HistoryPage{Items: items, Total: total, Page: page, Limit: limit}
}

// AllJobs is the administrative read path over the same records: every
// owner, newest first, capped at limit.
func (m *Manager) AllJobs(_ context.Context, limit int) []*Job {
	m.mu.RLock()
	all := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		all = append(all, cloneJob(job))
	}
	m.mu.RUnlock()

	sortNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ActiveJobs returns the owner's non-terminal jobs, newest first.
func (m *Manager) ActiveJobs(owner string) []StatusView {
	m.mu.RLock()
	active := make([]*Job, 0)
	for _, job := range m.jobs {
		if job.Owner == owner && !job.Status.Terminal() {
			active = append(active, cloneJob(job))
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(active)
	views := make([]StatusView, 0, len(active))
	for _, job := range active {
		views = append(views, statusViewOf(job))
	}
	return views
}

func (m *Manager) launch(id string) {
	m.wg.Add(1)
	go m.run(id)
}

func (m *Manager) run(id string) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	m.cancels[id] = cancel
	req := RunRequest{JobID: id, URL: job.URL, Kind: job.Kind}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.cancels, id)
		m.mu.Unlock()
	}()

	// Queued beyond the concurrency bound: the record stays pending until a
	// slot frees up or the job is cancelled.
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	if !m.markDownloading(id) {
		return
	}

	res, err := m.runner.Run(ctx, req, managerSink{m: m, id: id})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Cancel already transitioned the record.
			return
		}
		log.Error("download failed job=%s: %v", id, err)
		m.markError(id, errorMessage(err))
		return
	}
	m.markDone(id, res)
}

func (m *Manager) markDownloading(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusPending {
		m.mu.Unlock()
		return false
	}
	job.Status = StatusDownloading
	job.Message = "starting download"
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(context.Background(), snapshot)
	return true
}

func (m *Manager) markDone(id string, res RunResult) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusDownloading {
		m.mu.Unlock()
		return
	}
	if res.Title != "" {
		job.Title = res.Title
	}
	job.ArtifactPath = res.ArtifactPath
	job.ArtifactName = res.ArtifactName
	job.Progress = 100
	m.completeLocked(job, StatusDone, "completed")
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(context.Background(), snapshot)
}

func (m *Manager) markError(id, message string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.completeLocked(job, StatusError, message)
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(context.Background(), snapshot)
}

// completeLocked performs the one-time transition into a terminal state.
func (m *Manager) completeLocked(job *Job, status Status, message string) {
	now := time.Now()
	job.Status = status
	job.Message = message
	job.UpdatedAt = now
	if job.CompletedAt == nil {
		job.CompletedAt = &now
	}
}

func (m *Manager) applyTitle(id, title string) {
	if strings.TrimSpace(title) == "" {
		return
	}
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	job.Title = title
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(context.Background(), snapshot)
}

func (m *Manager) applySiteMeta(id, title, description string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	if title != "" {
		job.SiteTitle = title
	}
	if description != "" {
		job.SiteDescription = description
	}
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(context.Background(), snapshot)
}

func (m *Manager) applyProgress(id string, percent int, message string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusDownloading {
		m.mu.Unlock()
		return
	}
	if percent > 100 {
		percent = 100
	}
	// Progress is monotonically non-decreasing while downloading.
	if percent > job.Progress {
		job.Progress = percent
	}
	if message != "" {
		job.Message = message
	}
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persistJob(context.Background(), snapshot)
}

func (m *Manager) hydrateFromStore(ctx context.Context) {
	if m.store == nil {
		return
	}
	loaded, err := m.store.LoadJobs(ctx)
	if err != nil {
		log.Error("failed to load jobs from store: %v", err)
		return
	}

	interrupted := make([]*Job, 0)
	m.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusDownloading {
			// A half-finished fetch cannot resume across restarts.
			m.completeLocked(job, StatusError, "interrupted by server restart")
			interrupted = append(interrupted, cloneJob(job))
		}
		m.jobs[job.ID] = job
	}
	m.mu.Unlock()

	for _, job := range interrupted {
		m.persistJob(ctx, job)
	}
}

func (m *Manager) persistJob(ctx context.Context, job *Job) {
	if m.store == nil || job == nil {
		return
	}
	if err := m.store.UpsertJob(ctx, job); err != nil {
		log.Error("failed to persist job %s: %v", job.ID, err)
	}
}

// errorMessage strips the internal kind prefix so the record carries a
// message suitable for direct display.
func errorMessage(err error) string {
	var jerr *Error
	if errors.As(err, &jerr) {
		return jerr.Message
	}
	return err.Error()
}

type managerSink struct {
	m  *Manager
	id string
}

func (s managerSink) Title(title string) {
	s.m.applyTitle(s.id, title)
}

func (s managerSink) SiteMeta(title, description string) {
	s.m.applySiteMeta(s.id, title, description)
}

func (s managerSink) Progress(percent int, message string) {
	s.m.applyProgress(s.id, percent, message)
}

func statusViewOf(job *Job) StatusView {
	return StatusView{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.Message,
		Title:    job.Title,
	}
}

func historyItemOf(job *Job) HistoryItem {
	return HistoryItem{
		JobID:       job.ID,
		URL:         job.URL,
		Title:       job.DisplayTitle(),
		Description: job.SiteDescription,
		Status:      job.Status,
		Progress:    job.Progress,
		CreatedAt:   job.CreatedAt,
	}
}

func sortNewestFirst(list []*Job) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
