package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

type EventType string

const (
	// EventTypeJobCompleted is published once per finished scrape job,
	// successful or not.
	EventTypeJobCompleted EventType = "SCRAPE_JOB_COMPLETED"

	// previewSize bounds the product preview carried in the event.
	previewSize = 5
)

type JobCompletedPayload struct {
	EventID       string           `json:"event_id"`
	EventType     string           `json:"event_type"`
	Timestamp     time.Time        `json:"timestamp"`
	JobID         string           `json:"job_id"`
	Site          string           `json:"site"`
	Keyword       string           `json:"keyword"`
	Pages         int              `json:"pages"`
	Success       bool             `json:"success"`
	TotalProducts int              `json:"total_products"`
	OutputPath    string           `json:"output_path,omitempty"`
	Error         string           `json:"error,omitempty"`
	Preview       []ProductPreview `json:"preview,omitempty"`
	Source        string           `json:"source"`
}

type ProductPreview struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// NewJobCompletedPayload summarizes res. Sentinel values are dropped from
// the optional fields.
func NewJobCompletedPayload(jobID, site string, res *models.JobResult) *JobCompletedPayload {
	p := &JobCompletedPayload{
		JobID:         jobID,
		Site:          site,
		Keyword:       res.Keyword,
		Pages:         res.PagesRequested,
		Success:       res.Success,
		TotalProducts: res.TotalProducts,
	}
	if models.IsKnown(res.OutputPath) {
		p.OutputPath = res.OutputPath
	}
	if !res.Success {
		p.Error = res.Error
	}
	for i, rec := range res.Records {
		if i == previewSize {
			break
		}
		p.Preview = append(p.Preview, ProductPreview{
			URL:      rec.URL,
			Title:    rec.Title,
			Currency: rec.Price.Currency,
			Amount:   rec.Price.Amount,
		})
	}
	return p
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes events to the transactional outbox; the relay forwards
// them to Redis.
type Publisher struct {
	db     database.Transactor
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

func NewPublisher(db database.Transactor, outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:     db,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishJobCompleted stores the event in its own transaction.
func (p *Publisher) PublishJobCompleted(ctx context.Context, payload *JobCompletedPayload) error {
	err := p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.EnqueueWithTx(ctx, tx, payload)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// EnqueueWithTx stores the event inside tx, so it commits together with the
// job rows.
func (p *Publisher) EnqueueWithTx(ctx context.Context, tx pgx.Tx, payload *JobCompletedPayload) error {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeJobCompleted)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = "scraper"
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: "scrape_job",
		AggregateID:   payload.JobID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}
	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	p.logger.Info("event queued in outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"job_id", payload.JobID,
		"outbox_id", event.ID,
	)
	return nil
}
