package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/sites"
	"github.com/maltedev/marketplace-scraper/internal/storage"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownSite    = sites.ErrUnknownSite
	ErrBusy           = errors.New("scraper is busy")
	ErrRateLimited    = errors.New("too many job submissions")
	ErrNotFound       = errors.New("job not found")
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Runner executes one scrape job. *scraper.Engine satisfies it.
type Runner interface {
	RunJob(ctx context.Context, keyword string, maxPages int, table *sites.Table, paths storage.Paths) *models.JobResult
}

// Sink receives every finished job. Sink failures are logged and never
// change the job outcome.
type Sink interface {
	Save(ctx context.Context, job *Job) error
}

type Request struct {
	Site    string `json:"site"`
	Keyword string `json:"keyword"`
	Pages   int    `json:"pages"`
}

type Job struct {
	ID         string            `json:"id"`
	Site       string            `json:"site"`
	Keyword    string            `json:"keyword"`
	Pages      int               `json:"pages"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Result     *models.JobResult `json:"result,omitempty"`
}

type Config struct {
	MaxConcurrent int
	// PerMinute caps job submissions; zero disables the limit.
	PerMinute    int
	MaxPages     int
	DefaultPages int
	// History is the number of finished jobs kept for lookup.
	History     int
	OutputDir   string
	FallbackDir string
	SinkTimeout time.Duration
}

// Manager validates job requests and runs them synchronously on the
// caller's goroutine. Each running job owns a browser, so the number of
// concurrent jobs is capped and excess requests are rejected, not queued.
type Manager struct {
	runner   Runner
	registry *sites.Registry
	sinks    []Sink
	cfg      Config
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

func NewManager(runner Runner, registry *sites.Registry, cfg Config, logger *slog.Logger, sinks ...Sink) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 20
	}
	if cfg.DefaultPages < 1 || cfg.DefaultPages > cfg.MaxPages {
		cfg.DefaultPages = min(5, cfg.MaxPages)
	}
	if cfg.History < 1 {
		cfg.History = 50
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.PerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), cfg.PerMinute)
	}

	return &Manager{
		runner:   runner,
		registry: registry,
		sinks:    sinks,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter:  limiter,
		logger:   logger.With("component", "job_manager"),
		now:      time.Now,
		jobs:     make(map[string]*Job),
	}
}

// Validate normalizes req and resolves its site table. Zero pages means
// the default page count.
func (m *Manager) Validate(req Request) (Request, *sites.Table, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	req.Site = strings.ToLower(strings.TrimSpace(req.Site))

	if req.Keyword == "" {
		return req, nil, fmt.Errorf("%w: keyword is required", ErrInvalidRequest)
	}
	if req.Site == "" {
		return req, nil, fmt.Errorf("%w: site is required", ErrInvalidRequest)
	}
	if req.Pages == 0 {
		req.Pages = m.cfg.DefaultPages
	}
	if req.Pages < 1 || req.Pages > m.cfg.MaxPages {
		return req, nil, fmt.Errorf("%w: pages must be between 1 and %d", ErrInvalidRequest, m.cfg.MaxPages)
	}

	table, err := m.registry.Get(req.Site)
	if err != nil {
		return req, nil, err
	}
	return req, table, nil
}

// Run validates req and runs the job to completion. A non-nil error means
// the job never started; a job that ran reports its outcome in Result.
func (m *Manager) Run(ctx context.Context, req Request) (*Job, error) {
	req, table, err := m.Validate(req)
	if err != nil {
		return nil, err
	}
	if !m.limiter.Allow() {
		return nil, ErrRateLimited
	}
	if !m.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer m.sem.Release(1)

	now := m.now()
	job := &Job{
		ID:        uuid.New().String(),
		Site:      table.Key,
		Keyword:   req.Keyword,
		Pages:     req.Pages,
		Status:    StatusRunning,
		CreatedAt: now,
	}
	m.track(job)

	logger := m.logger.With("job_id", job.ID, "site", job.Site)
	logger.Info("job started", "keyword", job.Keyword, "pages", job.Pages)

	paths := storage.OutputPaths(m.cfg.OutputDir, m.cfg.FallbackDir, table.Key, req.Keyword, now)
	result := m.runner.RunJob(ctx, req.Keyword, req.Pages, table, paths)

	finished := m.finish(job.ID, result)
	logger.Info("job completed",
		"status", finished.Status,
		"products", result.TotalProducts,
		"output", result.OutputPath,
	)

	m.deliver(ctx, finished, logger)
	return finished, nil
}

func (m *Manager) deliver(ctx context.Context, job *Job, logger *slog.Logger) {
	if len(m.sinks) == 0 {
		return
	}
	// The job already ran; a client disconnect must not lose its rows.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SinkTimeout)
	defer cancel()

	for _, sink := range m.sinks {
		if err := sink.Save(ctx, job); err != nil {
			logger.Error("failed to deliver job result", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}

func (m *Manager) track(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	for len(m.order) > m.cfg.History {
		oldest := m.order[0]
		if m.jobs[oldest].Status == StatusRunning {
			break
		}
		delete(m.jobs, oldest)
		m.order = m.order[1:]
	}
}

func (m *Manager) finish(id string, result *models.JobResult) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.jobs[id]
	finishedAt := m.now()
	job.FinishedAt = &finishedAt
	job.Result = result
	job.Status = StatusCompleted
	if !result.Success {
		job.Status = StatusFailed
	}
	c := *job
	return &c
}

func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := *job
	return &c, nil
}

// List returns the tracked jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		c := *m.jobs[m.order[i]]
		out = append(out, &c)
	}
	return out
}

func (m *Manager) Sites() []*sites.Table {
	keys := m.registry.Keys()
	out := make([]*sites.Table, 0, len(keys))
	for _, k := range keys {
		if t, err := m.registry.Get(k); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) Limits() Config {
	return m.cfg
}
