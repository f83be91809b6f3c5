package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/events"
)

// StoreSink writes the finished job, its records and, when a publisher is
// set, the completion event in a single transaction.
type StoreSink struct {
	db        database.Transactor
	store     *database.ResultStore
	publisher *events.Publisher
	logger    *slog.Logger
}

func NewStoreSink(db database.Transactor, store *database.ResultStore, publisher *events.Publisher, logger *slog.Logger) *StoreSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSink{
		db:        db,
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "store_sink"),
	}
}

func (s *StoreSink) Save(ctx context.Context, job *Job) error {
	if job.Result == nil {
		return fmt.Errorf("job %s has not finished", job.ID)
	}

	finishedAt := time.Now()
	if job.FinishedAt != nil {
		finishedAt = *job.FinishedAt
	}
	row := database.JobRow{
		ID:         job.ID,
		Site:       job.Site,
		Keyword:    job.Keyword,
		Pages:      job.Pages,
		StartedAt:  job.CreatedAt,
		FinishedAt: finishedAt,
		Result:     job.Result,
	}

	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := s.store.SaveWithTx(ctx, tx, row); err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		return s.publisher.EnqueueWithTx(ctx, tx, events.NewJobCompletedPayload(job.ID, job.Site, job.Result))
	})
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}

	s.logger.Debug("job stored", "job_id", job.ID, "records", job.Result.TotalProducts)
	return nil
}
