package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scrape_job (
		id             UUID PRIMARY KEY,
		site           TEXT NOT NULL,
		keyword        TEXT NOT NULL,
		pages          INT NOT NULL,
		success        BOOLEAN NOT NULL,
		total_products INT NOT NULL,
		output_path    TEXT,
		error          TEXT,
		started_at     TIMESTAMPTZ NOT NULL,
		finished_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scraped_product (
		job_id       UUID NOT NULL REFERENCES scrape_job(id) ON DELETE CASCADE,
		position     INT NOT NULL,
		url          TEXT NOT NULL,
		source_site  TEXT NOT NULL,
		title        TEXT,
		currency     TEXT,
		amount       TEXT,
		brand        TEXT,
		data         JSONB NOT NULL,
		PRIMARY KEY (job_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scraped_product_url ON scraped_product (url)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL,
		retry_count    INT NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at)`,
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, q Querier) error {
	for _, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
