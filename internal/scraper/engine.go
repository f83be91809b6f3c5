package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/aggregator"
	"github.com/maltedev/marketplace-scraper/internal/antidetect"
	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/extract"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/ratelimit"
	"github.com/maltedev/marketplace-scraper/internal/sites"
	"github.com/maltedev/marketplace-scraper/internal/storage"
)

var (
	ErrChallenge   = errors.New("bot challenge detected")
	ErrNoProducts  = errors.New("no products scraped")
	ErrSessionLost = errors.New("browser session lost")
)

type Config struct {
	// PageRetries bounds attempts per page and the number of challenged
	// pages a job tolerates.
	PageRetries int
	// BackoffStep is the linear backoff unit between retries of one page.
	BackoffStep time.Duration
	// PaceMin and PaceMax bound the politeness delay between pages.
	PaceMin time.Duration
	PaceMax time.Duration

	FieldAttempts int
	FieldDelay    time.Duration
	WaitTimeout   time.Duration

	UserAgents  []string
	SkipDetails bool
}

func DefaultConfig() Config {
	return Config{
		PageRetries:   3,
		BackoffStep:   5 * time.Second,
		PaceMin:       2 * time.Second,
		PaceMax:       5 * time.Second,
		FieldAttempts: 3,
		FieldDelay:    500 * time.Millisecond,
		WaitTimeout:   15 * time.Second,
	}
}

// Engine runs scrape jobs. Each job owns one browser session for its whole
// lifetime; the engine itself holds no per-job state.
type Engine struct {
	launcher  browser.Launcher
	persister *storage.Persister
	cfg       Config
	logger    *slog.Logger
}

func NewEngine(launcher browser.Launcher, persister *storage.Persister, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if persister == nil {
		persister = storage.NewPersister(nil, logger)
	}
	if cfg.PageRetries < 1 {
		cfg.PageRetries = 1
	}
	return &Engine{
		launcher:  launcher,
		persister: persister,
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
	}
}

// RunJob scrapes up to maxPages result pages for keyword and persists the
// deduplicated records. It never panics and always returns a result; on
// failure the result still carries every record aggregated so far.
func (e *Engine) RunJob(ctx context.Context, keyword string, maxPages int, table *sites.Table, paths storage.Paths) *models.JobResult {
	keyword = strings.TrimSpace(keyword)
	logger := e.logger.With("site", table.Key, "keyword", keyword)

	if maxPages < 1 {
		logger.Info("nothing to do", "max_pages", maxPages)
		return models.NewJobResult(keyword, maxPages, nil, "", nil)
	}

	start := time.Now()
	logger.Info("starting job", "max_pages", maxPages)

	session, err := e.launcher.Launch(ctx)
	if err != nil {
		logger.Error("failed to start browser", "error", err)
		return models.NewJobResult(keyword, maxPages, nil, "", fmt.Errorf("%w: failed to start browser: %v", ErrSessionLost, err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close browser session", "error", err)
		}
	}()

	j := e.newJob(session, table, keyword, logger)

	stats, runErr := j.paginate(ctx, maxPages)
	records := j.agg.Records()

	var jobErr error
	switch {
	case runErr != nil:
		jobErr = runErr
	case len(records) == 0 && stats.challenges > 0:
		jobErr = fmt.Errorf("%w on %d page(s)", ErrChallenge, stats.challenges)
	case len(records) == 0:
		jobErr = ErrNoProducts
	}

	outputPath := ""
	if len(records) > 0 {
		path, err := e.persister.Save(records, paths)
		if err != nil {
			logger.Error("failed to persist records", "error", err)
			if jobErr == nil {
				jobErr = err
			} else {
				jobErr = errors.Join(jobErr, err)
			}
		}
		outputPath = path
	}

	logger.Info("job finished",
		"success", jobErr == nil,
		"records", len(records),
		"pages", stats.pages,
		"challenges", stats.challenges,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return models.NewJobResult(keyword, maxPages, records, outputPath, jobErr)
}

// job is the state of one RunJob call. It is used from a single goroutine.
type job struct {
	cfg      Config
	session  browser.Session
	table    *sites.Table
	keyword  string
	agg      *aggregator.Aggregator
	x        *extract.Extractor
	rotator  *antidetect.Rotator
	detector *antidetect.Detector
	pacer    *ratelimit.Pacer
	backoff  ratelimit.Backoff
	logger   *slog.Logger
}

func (e *Engine) newJob(session browser.Session, table *sites.Table, keyword string, logger *slog.Logger) *job {
	return &job{
		cfg:      e.cfg,
		session:  session,
		table:    table,
		keyword:  keyword,
		agg:      aggregator.New(),
		x:        extract.New(e.cfg.FieldAttempts, e.cfg.FieldDelay, logger),
		rotator:  antidetect.NewRotator(e.cfg.UserAgents, logger),
		detector: antidetect.NewDetector(table.Challenge),
		pacer:    ratelimit.NewPacer(e.cfg.PaceMin, e.cfg.PaceMax),
		backoff:  ratelimit.LinearBackoff(e.cfg.BackoffStep),
		logger:   logger,
	}
}
