package scraper

import (
	"context"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/maltedev/marketplace-scraper/internal/extract"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/sites"
)

// draft is a record under construction plus the raw values that only feed
// derived fields.
type draft struct {
	rec       *models.ProductRecord
	listPrice string
	discount  string
	features  []string
	images    []string
	videos    []string
}

func newDraft(site, canonical string) *draft {
	rec := models.NewProductRecord(site)
	rec.URL = canonical
	return &draft{rec: rec, listPrice: models.Unknown, discount: models.Unknown}
}

func (d *draft) clone() *draft {
	c := *d
	c.rec = d.rec.Clone()
	c.features = append([]string(nil), d.features...)
	c.images = append([]string(nil), d.images...)
	c.videos = append([]string(nil), d.videos...)
	return &c
}

func (d *draft) hasTitle() bool {
	return models.IsKnown(d.rec.Title)
}

// applyFields extracts every configured field from root. Known values
// overwrite earlier ones; misses leave them alone. Fields listed as live
// are read from live instead when it is set.
func (j *job) applyFields(ctx context.Context, d *draft, root, live extract.Node, f sites.Fields) {
	node := func(field string) extract.Node {
		if live != nil && j.table.Detail.IsLive(field) {
			return live
		}
		return root
	}
	get := func(field string, chain extract.Chain, normalize extract.NormalizeFunc) string {
		if chain.Empty() {
			return models.Unknown
		}
		return j.x.Extract(ctx, node(field), chain, normalize)
	}
	set := func(dst *string, v string) {
		if models.IsKnown(v) {
			*dst = v
		}
	}

	set(&d.rec.Title, get("title", f.Title, nil))

	if raw := get("price", f.Price, nil); models.IsKnown(raw) {
		if p := extract.ParsePrice(raw, j.askMarkers()); models.IsKnown(p.Amount) {
			d.rec.Price = p
		}
	}
	set(&d.listPrice, get("list_price", f.ListPrice, nil))
	set(&d.discount, get("discount", f.Discount, nil))

	if desc := get("description", f.Description, nil); models.IsKnown(desc) {
		d.rec.Description = models.PlainText(desc)
	}

	set(&d.rec.Seller.Name, get("seller", f.Seller, nil))
	set(&d.rec.Origin, get("origin", f.Origin, nil))
	set(&d.rec.Feedback.Rating, get("rating", f.Rating, extract.ParseRating))
	set(&d.rec.Feedback.ReviewCount, get("review_count", f.ReviewCount, extract.ParseReviewCount))
	set(&d.rec.MinOrder, get("min_order", f.MinOrder, j.cleanMinOrder))
	set(&d.rec.Brand, get("brand", f.Brand, nil))
	set(&d.rec.Dimensions, get("dimensions", f.Dimensions, nil))

	if !f.Videos.Empty() {
		if videos := j.x.ExtractAll(ctx, node("videos"), f.Videos); len(videos) > 0 {
			d.videos = append(d.videos, videos...)
		}
	}

	var candidates []string
	for _, sel := range f.Images {
		found, err := root.Find(sel)
		if err != nil {
			continue
		}
		for _, img := range found {
			candidates = append(candidates, extract.ImageSources(img)...)
		}
	}
	// Later passes see larger images; keep them ahead of listing thumbnails.
	d.images = append(candidates, d.images...)
}

func (j *job) askMarkers() []string {
	if len(j.table.AskMarkers) > 0 {
		return append(append([]string{}, extract.DefaultAskMarkers...), j.table.AskMarkers...)
	}
	return extract.DefaultAskMarkers
}

func (j *job) cleanMinOrder(raw string) (string, error) {
	return extract.StripMarkers(raw, j.table.MinOrderMarkers), nil
}

// finish derives the remaining fields and applies length caps.
func (j *job) finish(d *draft) *models.ProductRecord {
	rec := d.rec
	t := j.table

	if t.TitleMax > 0 && models.IsKnown(rec.Title) {
		rec.Title = extract.Truncate(rec.Title, t.TitleMax)
	}

	if t.Detail.StructuredDescription && (len(d.features) > 0 || len(rec.Specifications) > 0) {
		rec.Description = models.Structured(d.features, maps.Clone(rec.Specifications))
	} else if t.DescriptionMax > 0 && models.IsKnown(rec.Description.Text) {
		rec.Description = models.PlainText(extract.Truncate(rec.Description.Text, t.DescriptionMax))
	}

	rec.Discount = extract.ComputeDiscount(d.discount, d.listPrice, rec.Price.Amount)

	if b := extract.BrandFromSpecs(rec.Specifications); models.IsKnown(b) {
		rec.Brand = b
	} else if !models.IsKnown(rec.Brand) {
		rec.Brand = extract.InferBrand(rec.Specifications, t.Brands, j.keyword, rec.Title)
	}

	if origin := specLookup(rec.Specifications, t.OriginKeys); models.IsKnown(origin) {
		rec.Origin = origin
	}

	if !models.IsKnown(rec.Dimensions) {
		rec.Dimensions = extract.Dimensions(rec.Specifications, t.DimensionRegexp(), t.DimensionKeys)
	}

	if !models.IsKnown(rec.MinOrder) {
		rec.MinOrder = models.Or(t.Defaults.MinOrder, models.Unknown)
	}

	rec.Media.Images = extract.CollectImages(d.images, t.BaseURL, t.ImageRules())
	if len(rec.Media.Images) > 0 {
		rec.Media.PrimaryImage = rec.Media.Images[0]
	} else {
		rec.Media.PrimaryImage = models.Unknown
	}
	rec.Media.Videos = absoluteSet(d.videos, t.BaseURL)

	return rec
}

// specLookup returns the value of the first spec whose key contains one of
// keys, checking keys in order.
func specLookup(specs map[string]string, keys []string) string {
	labels := slices.Sorted(maps.Keys(specs))
	for _, want := range keys {
		for _, k := range labels {
			if v := specs[k]; strings.Contains(strings.ToLower(k), strings.ToLower(want)) && models.IsKnown(v) {
				return v
			}
		}
	}
	return models.Unknown
}

// absoluteSet resolves urls against base and drops duplicates, keeping
// first-seen order.
func absoluteSet(urls []string, base string) []string {
	out := []string{}
	b, err := url.Parse(base)
	if err != nil {
		return out
	}
	seen := make(map[string]bool, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "//") {
			raw = "https:" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || raw == "" || strings.HasPrefix(raw, "blob:") || strings.HasPrefix(raw, "data:") {
			continue
		}
		abs := b.ResolveReference(u).String()
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out
}
