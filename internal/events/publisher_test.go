package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

// MockTransactor runs fn with a nil transaction unless told to fail.
type MockTransactor struct {
	mock.Mock
}

func (m *MockTransactor) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(nil)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func sampleResult(n int, err error) *models.JobResult {
	var records []models.ProductRecord
	for i := 0; i < n; i++ {
		rec := models.NewProductRecord("flipkart")
		rec.URL = fmt.Sprintf("https://www.flipkart.com/p/itm%d", i)
		rec.Title = fmt.Sprintf("Phone %d", i)
		rec.Price = models.Price{Currency: "₹", Amount: "9999"}
		records = append(records, *rec)
	}
	out := "/tmp/output.json"
	if err != nil {
		out = ""
	}
	return models.NewJobResult("phone", 3, records, out, err)
}

func TestNewJobCompletedPayload(t *testing.T) {
	t.Run("success with preview cap", func(t *testing.T) {
		p := NewJobCompletedPayload("job-1", "flipkart", sampleResult(8, nil))

		assert.Equal(t, "job-1", p.JobID)
		assert.Equal(t, "phone", p.Keyword)
		assert.Equal(t, 3, p.Pages)
		assert.True(t, p.Success)
		assert.Equal(t, 8, p.TotalProducts)
		assert.Equal(t, "/tmp/output.json", p.OutputPath)
		assert.Empty(t, p.Error)
		require.Len(t, p.Preview, previewSize)
		assert.Equal(t, "Phone 0", p.Preview[0].Title)
	})

	t.Run("failure drops sentinels", func(t *testing.T) {
		p := NewJobCompletedPayload("job-2", "flipkart", sampleResult(0, errors.New("no products scraped")))

		assert.False(t, p.Success)
		assert.Equal(t, "no products scraped", p.Error)
		assert.Empty(t, p.OutputPath)
		assert.Empty(t, p.Preview)

		data, err := json.Marshal(p)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "output_path")
	})
}

func TestPublisher_PublishJobCompleted(t *testing.T) {
	ctx := context.Background()

	t.Run("stores event in outbox", func(t *testing.T) {
		db := new(MockTransactor)
		outbox := new(MockOutboxRepository)
		publisher := NewPublisher(db, outbox, "", quiet())

		db.On("Transaction", ctx).Return(nil)
		outbox.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(event *database.OutboxEvent) bool {
			var p JobCompletedPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return false
			}
			return event.AggregateType == "scrape_job" &&
				event.AggregateID == "job-1" &&
				event.EventType == "SCRAPE_JOB_COMPLETED" &&
				event.TargetStream == database.DefaultStream &&
				p.EventID != "" &&
				p.Source == "scraper" &&
				!p.Timestamp.IsZero()
		})).Return(nil)

		payload := NewJobCompletedPayload("job-1", "flipkart", sampleResult(2, nil))
		require.NoError(t, publisher.PublishJobCompleted(ctx, payload))

		db.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("custom stream", func(t *testing.T) {
		db := new(MockTransactor)
		outbox := new(MockOutboxRepository)
		publisher := NewPublisher(db, outbox, "stream:custom", quiet())

		db.On("Transaction", ctx).Return(nil)
		outbox.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(event *database.OutboxEvent) bool {
			return event.TargetStream == "stream:custom"
		})).Return(nil)

		require.NoError(t, publisher.PublishJobCompleted(ctx, &JobCompletedPayload{JobID: "job-3"}))
		outbox.AssertExpectations(t)
	})

	t.Run("outbox insert failure", func(t *testing.T) {
		db := new(MockTransactor)
		outbox := new(MockOutboxRepository)
		publisher := NewPublisher(db, outbox, "", quiet())

		db.On("Transaction", ctx).Return(nil)
		outbox.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(assert.AnError)

		err := publisher.PublishJobCompleted(ctx, &JobCompletedPayload{JobID: "job-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert outbox event")
	})

	t.Run("transaction failure", func(t *testing.T) {
		db := new(MockTransactor)
		outbox := new(MockOutboxRepository)
		publisher := NewPublisher(db, outbox, "", quiet())

		db.On("Transaction", ctx).Return(errors.New("failed to begin transaction"))

		err := publisher.PublishJobCompleted(ctx, &JobCompletedPayload{JobID: "job-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
	})
}
