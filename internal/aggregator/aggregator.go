package aggregator

import (
	"github.com/maltedev/marketplace-scraper/internal/models"
)

// Aggregator keeps at most one record per canonical URL for the lifetime of
// one job. The first record seen for a URL wins; later ones are dropped.
// It is not safe for concurrent use.
type Aggregator struct {
	index   map[string]int
	records []*models.ProductRecord
}

func New() *Aggregator {
	return &Aggregator{index: make(map[string]int)}
}

// Seen reports whether url is already stored.
func (a *Aggregator) Seen(url string) bool {
	_, ok := a.index[url]
	return ok
}

// Upsert stores rec when its URL is new and reports whether it did.
// Invalid records are rejected.
func (a *Aggregator) Upsert(rec *models.ProductRecord) bool {
	if rec == nil || len(rec.Validate()) > 0 {
		return false
	}
	if _, ok := a.index[rec.URL]; ok {
		return false
	}
	a.index[rec.URL] = len(a.records)
	a.records = append(a.records, rec.Clone())
	return true
}

func (a *Aggregator) Len() int { return len(a.records) }

// Records returns the stored records in first-insertion order.
func (a *Aggregator) Records() []models.ProductRecord {
	out := make([]models.ProductRecord, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, *rec.Clone())
	}
	return out
}
