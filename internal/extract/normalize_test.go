package extract

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		currency string
		amount   string
	}{
		{"dollar with prefix", "US$ 1,234.50", "US$", "1234.50"},
		{"ebay spaced prefix", "US $12.99", "US$", "12.99"},
		{"rupee", "₹1,299", "₹", "1299"},
		{"range takes first", "$12.99 - $15.99", "$", "12.99"},
		{"no currency", "1,299", models.Unknown, "1299"},
		{"contact supplier", "Contact Supplier", models.Unknown, models.AskPrice},
		{"negotiable", "Price Negotiable", models.Unknown, models.AskPrice},
		{"indiamart ask", "Ask Price", models.Unknown, models.AskPrice},
		{"empty", "", models.Unknown, models.Unknown},
		{"no digits", "free", models.Unknown, models.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePrice(tt.raw, nil)
			assert.Equal(t, tt.currency, p.Currency)
			assert.Equal(t, tt.amount, p.Amount)
		})
	}
}

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		name      string
		explicit  string
		listPrice string
		price     string
		expected  string
	}{
		{"computed", "", "100.00", "75.00", "25.00% off"},
		{"equal prices", "", "50", "50", models.Unknown},
		{"list below price", "", "40", "50", models.Unknown},
		{"explicit wins", "-30%", "100", "75", "-30%"},
		{"explicit unknown falls back", models.Unknown, "200", "150", "25.00% off"},
		{"unparseable", "", "abc", "75", models.Unknown},
		{"unknown price", "", "100", models.Unknown, models.Unknown},
		{"thousands", "", "1,999", "1,499", "25.01% off"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeDiscount(tt.explicit, tt.listPrice, tt.price))
		})
	}
}

func TestInferBrand(t *testing.T) {
	tests := []struct {
		name    string
		specs   map[string]string
		known   []string
		keyword string
		title   string
		want    string
	}{
		{"spec key", map[string]string{"Brand": "Casio"}, nil, "watch", "Casio Men Watch", "Casio"},
		{"spec key variant", map[string]string{"Brand Name": "Acme"}, nil, "shoe", "Runner", "Acme"},
		{"known brand list", nil, []string{"tag heuer", "rolex"}, "watch", "New TAG Heuer Carrera", "Tag Heuer"},
		{"keyword token", nil, nil, "nike shoes", "Men's NIKE Air Zoom", "NIKE"},
		{"no match", nil, nil, "adidas shoes", "Puma runner", models.Unknown},
		{"unknown title", nil, nil, "nike", models.Unknown, models.Unknown},
		{"empty keyword", nil, nil, "  ", "Anything", models.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferBrand(tt.specs, tt.known, tt.keyword, tt.title))
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapse whitespace", "  Red \n\t Shoe  ", "Red Shoe"},
		{"zero width", "Red\u200bShoe\u200e", "RedShoe"},
		{"line separator", "A\u2028B", "AB"},
		{"control chars", "A\x07B", "AB"},
		{"codepoint marker", "Brand [U+200E] : X", "Brand : X"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Len(t, []rune(Truncate("ääääääääääääää", 8)), 8)
	assert.Equal(t, "anything", Truncate("anything", 0))
}

func TestParseRatingAndReviews(t *testing.T) {
	r, err := ParseRating("4.3 out of 5 stars")
	require.NoError(t, err)
	assert.Equal(t, "4.3", r)

	r, err = ParseRating("4,5 von 5")
	require.NoError(t, err)
	assert.Equal(t, "4.5", r)

	_, err = ParseRating("no stars")
	assert.Error(t, err)

	c, err := ParseReviewCount("(1,234 ratings)")
	require.NoError(t, err)
	assert.Equal(t, "1234", c)

	_, err = ParseReviewCount("none")
	assert.Error(t, err)
}

func TestParsePageCount(t *testing.T) {
	assert.Equal(t, 20, ParsePageCount("1 2 3 ... 20"))
	assert.Equal(t, 0, ParsePageCount("Next"))
}

func TestDimensions(t *testing.T) {
	re := regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:cm|mm|in|inches)\b`)
	specs := map[string]string{
		"Item Size":  "Width 30 cm",
		"Color":      "Red 10 cm",
		"Dimensions": "12 in",
	}
	assert.Equal(t, "dimensions: 12 in (12 in); item size: Width 30 cm (30 cm)", Dimensions(specs, re, []string{"size", "dimension"}))
	assert.Equal(t, models.Unknown, Dimensions(map[string]string{"Color": "Red"}, re, []string{"size"}))
	assert.Equal(t, models.Unknown, Dimensions(specs, nil, []string{"size"}))
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name    string
		href    string
		base    string
		strip   []string
		want    string
		wantErr bool
	}{
		{"relative with ref", "/Shoe/dp/B0123/ref=sr_1_1?keywords=shoe", "https://www.amazon.in", []string{"/ref="}, "https://www.amazon.in/Shoe/dp/B0123", false},
		{"protocol relative", "//www.alibaba.com/product-detail/x.html?spm=1", "https://www.alibaba.com", nil, "https://www.alibaba.com/product-detail/x.html", false},
		{"absolute with fragment", "https://www.ebay.com/itm/123?hash=1#top", "", nil, "https://www.ebay.com/itm/123", false},
		{"empty", "", "https://x.com", nil, "", true},
		{"javascript", "javascript:void(0)", "https://x.com", nil, "", true},
		{"relative without base", "/itm/1", "", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.href, tt.base, tt.strip)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
