package storage

import (
	"encoding/csv"
	"io"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

var csvHeader = []string{"URL", "Title", "Currency", "Amount", "Brand", "Seller", "Rating", "Reviews", "Origin", "MinOrder", "Site"}

// ExportCSV writes a flat summary of records, one row per record.
func ExportCSV(w io.Writer, records []models.ProductRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.URL,
			rec.Title,
			rec.Price.Currency,
			rec.Price.Amount,
			rec.Brand,
			rec.Seller.Name,
			rec.Feedback.Rating,
			rec.Feedback.ReviewCount,
			rec.Origin,
			rec.MinOrder,
			rec.SourceSite,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
