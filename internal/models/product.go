package models

import (
	"maps"
	"strings"
)

const (
	// Unknown marks a field that could not be extracted. It is never the
	// empty string so consumers can tell "missing" from "blank".
	Unknown = "N/A"

	// AskPrice marks listings that publish no price ("Contact Supplier").
	AskPrice = "ask-price"
)

// ProductRecord is the unit of output. Field order here is the serialized
// order, so every record of a job has the same shape.
type ProductRecord struct {
	URL            string            `json:"url"`
	Title          string            `json:"title"`
	Price          Price             `json:"price"`
	Description    Description       `json:"description"`
	MinOrder       string            `json:"min_order"`
	Seller         Seller            `json:"seller"`
	Origin         string            `json:"origin"`
	Feedback       Feedback          `json:"feedback"`
	Media          Media             `json:"media"`
	Specifications map[string]string `json:"specifications"`
	Dimensions     string            `json:"dimensions"`
	Discount       string            `json:"discount"`
	Brand          string            `json:"brand"`
	SourceSite     string            `json:"source_site"`
}

type Price struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type Seller struct {
	Name string `json:"name"`
}

type Feedback struct {
	Rating      string `json:"rating"`
	ReviewCount string `json:"review_count"`
}

type Media struct {
	PrimaryImage string   `json:"primary_image"`
	Images       []string `json:"images"`
	Videos       []string `json:"videos"`
}

// NewProductRecord returns a record with every field set to its sentinel.
func NewProductRecord(site string) *ProductRecord {
	return &ProductRecord{
		URL:            Unknown,
		Title:          Unknown,
		Price:          Price{Currency: Unknown, Amount: Unknown},
		Description:    PlainText(Unknown),
		MinOrder:       Unknown,
		Seller:         Seller{Name: Unknown},
		Origin:         Unknown,
		Feedback:       Feedback{Rating: Unknown, ReviewCount: Unknown},
		Media:          Media{PrimaryImage: Unknown, Images: []string{}, Videos: []string{}},
		Specifications: map[string]string{},
		Dimensions:     Unknown,
		Discount:       Unknown,
		Brand:          Unknown,
		SourceSite:     site,
	}
}

// Clone returns a deep copy so a failed detail pass can be discarded
// without touching the listing-pass values.
func (r *ProductRecord) Clone() *ProductRecord {
	c := *r
	c.Description = r.Description.clone()
	c.Media.Images = append([]string{}, r.Media.Images...)
	c.Media.Videos = append([]string{}, r.Media.Videos...)
	c.Specifications = maps.Clone(r.Specifications)
	if c.Specifications == nil {
		c.Specifications = map[string]string{}
	}
	return &c
}

// Validate reports why a record must not be stored.
func (r *ProductRecord) Validate() []string {
	var errors []string

	if !IsKnown(r.URL) {
		errors = append(errors, "URL is required")
	} else if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		errors = append(errors, "URL must be absolute")
	}

	if r.SourceSite == "" {
		errors = append(errors, "source site is required")
	}

	return errors
}

// IsKnown reports whether v carries a real value.
func IsKnown(v string) bool {
	return v != "" && v != Unknown
}

// Or returns v when it is known and fallback otherwise.
func Or(v, fallback string) string {
	if IsKnown(v) {
		return v
	}
	return fallback
}
