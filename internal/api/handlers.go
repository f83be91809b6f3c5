package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/marketplace-scraper/internal/jobs"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

// OutboxStats reports event delivery backlog for the health check.
type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

type Handlers struct {
	jobs    *jobs.Manager
	outbox  OutboxStats
	logger  *slog.Logger
	started time.Time
	now     func() time.Time
}

// NewHandlers builds the handlers. outbox may be nil when events are off.
func NewHandlers(manager *jobs.Manager, outbox OutboxStats, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:    manager,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
		started: time.Now(),
		now:     time.Now,
	}
}

// ScrapeResponse is returned for every job that ran, successful or not.
type ScrapeResponse struct {
	Success       bool                   `json:"success"`
	JobID         string                 `json:"job_id"`
	Site          string                 `json:"site"`
	Keyword       string                 `json:"keyword"`
	PagesScraped  int                    `json:"pages_scraped"`
	TotalProducts int                    `json:"total_products"`
	OutputFile    string                 `json:"output_file"`
	Data          []models.ProductRecord `json:"data"`
	Error         string                 `json:"error,omitempty"`
}

func newScrapeResponse(job *jobs.Job) ScrapeResponse {
	res := job.Result
	resp := ScrapeResponse{
		Success:       res.Success,
		JobID:         job.ID,
		Site:          job.Site,
		Keyword:       res.Keyword,
		PagesScraped:  res.PagesRequested,
		TotalProducts: res.TotalProducts,
		OutputFile:    res.OutputPath,
		Data:          res.Records,
	}
	if !res.Success {
		resp.Error = res.Error
	}
	return resp
}

// Scrape runs one job synchronously. The site comes from the URL when the
// route carries one, otherwise from the request body.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	req, status, err := decodeScrapeRequest(r)
	if err != nil {
		h.respondError(w, status, err.Error())
		return
	}
	if site := chi.URLParam(r, "site"); site != "" {
		req.Site = site
	}

	job, err := h.jobs.Run(r.Context(), req)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	if !job.Result.Success {
		h.logger.Warn("job failed", "job_id", job.ID, "error", job.Result.Error)
	}
	h.respondJSON(w, http.StatusOK, newScrapeResponse(job))
}

func decodeScrapeRequest(r *http.Request) (jobs.Request, int, error) {
	var req jobs.Request

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, http.StatusBadRequest, errors.New("invalid JSON format")
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		req.Site = r.FormValue("site")
		req.Keyword = r.FormValue("keyword")
		if raw := strings.TrimSpace(r.FormValue("pages")); raw != "" {
			pages, err := strconv.Atoi(raw)
			if err != nil {
				return req, http.StatusBadRequest, errors.New("pages must be a valid integer")
			}
			req.Pages = pages
		}
	default:
		return req, http.StatusUnsupportedMediaType, errors.New("unsupported Content-Type, use application/json or application/x-www-form-urlencoded")
	}
	return req, 0, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrUnknownSite), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, jobs.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	health := map[string]any{
		"status":    "ok",
		"timestamp": now.Format(time.RFC3339),
		"uptime":    now.Sub(h.started).Seconds(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.PendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending events", "error", err)
		}
		deadLetter, err := h.outbox.DeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count dead letter events", "error", err)
		}
		health["outbox"] = map[string]any{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if deadLetter > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

type SiteInfo struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	tables := h.jobs.Sites()
	out := make([]SiteInfo, 0, len(tables))
	for _, t := range tables {
		out = append(out, SiteInfo{Key: t.Key, Name: t.Name, BaseURL: t.BaseURL})
	}

	limits := h.jobs.Limits()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"sites":         out,
		"max_pages":     limits.MaxPages,
		"default_pages": limits.DefaultPages,
	})
}

// ListJobs returns recent jobs without their records.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list := h.jobs.List()
	out := make([]map[string]any, 0, len(list))
	for _, job := range list {
		entry := map[string]any{
			"id":         job.ID,
			"site":       job.Site,
			"keyword":    job.Keyword,
			"pages":      job.Pages,
			"status":     job.Status,
			"created_at": job.CreatedAt,
		}
		if job.FinishedAt != nil {
			entry["finished_at"] = job.FinishedAt
		}
		if job.Result != nil {
			entry["total_products"] = job.Result.TotalProducts
			entry["output_file"] = job.Result.OutputPath
		}
		out = append(out, entry)
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
