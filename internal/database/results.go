package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

// JobRow is the summary stored for every finished job.
type JobRow struct {
	ID         string
	Site       string
	Keyword    string
	Pages      int
	StartedAt  time.Time
	FinishedAt time.Time
	Result     *models.JobResult
}

// ResultStore writes finished jobs and their records.
type ResultStore struct{}

func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// SaveWithTx inserts the job row and one row per record, keeping the
// record order in position.
func (s *ResultStore) SaveWithTx(ctx context.Context, tx pgx.Tx, job JobRow) error {
	res := job.Result
	if res == nil {
		return fmt.Errorf("job %s has no result", job.ID)
	}

	var jobErr *string
	if !res.Success {
		jobErr = &res.Error
	}
	var outputPath *string
	if models.IsKnown(res.OutputPath) {
		outputPath = &res.OutputPath
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO scrape_job (
			id, site, keyword, pages, success, total_products,
			output_path, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Site, job.Keyword, job.Pages, res.Success, res.TotalProducts,
		outputPath, jobErr, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}

	for i, rec := range res.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.URL, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO scraped_product (
				job_id, position, url, source_site, title, currency, amount, brand, data
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (job_id, url) DO NOTHING`,
			job.ID, i, rec.URL, rec.SourceSite, rec.Title,
			rec.Price.Currency, rec.Price.Amount, rec.Brand, data,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.URL, err)
		}
	}

	return nil
}
