package sites

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/marketplace-scraper/internal/extract"
)

var ErrUnknownSite = errors.New("unknown site")

// Table is the per-marketplace configuration consumed by the engine:
// selectors, URL templates and parsing heuristics. Nothing site-specific
// lives in control flow.
type Table struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	SearchURL string `yaml:"search_url"`

	// URLPattern, when set, must match a canonical product URL.
	URLPattern string   `yaml:"url_pattern"`
	StripAfter []string `yaml:"strip_after"`

	RequireKeywordInTitle bool     `yaml:"require_keyword_in_title"`
	TitleMax              int      `yaml:"title_max"`
	DescriptionMax        int      `yaml:"description_max"`
	Brands                []string `yaml:"brands"`
	AskMarkers            []string `yaml:"ask_markers"`
	MinOrderMarkers       []string `yaml:"min_order_markers"`
	DimensionPattern      string   `yaml:"dimension_pattern"`
	DimensionKeys         []string `yaml:"dimension_keys"`
	OriginKeys            []string `yaml:"origin_keys"`

	Defaults   Defaults   `yaml:"defaults"`
	Listing    Listing    `yaml:"listing"`
	Pagination Pagination `yaml:"pagination"`
	Detail     Detail     `yaml:"detail"`
	Challenge  Challenge  `yaml:"challenge"`
	Images     Images     `yaml:"images"`

	urlRe    *regexp.Regexp
	dimRe    *regexp.Regexp
	resRe    *regexp.Regexp
	scriptRe *regexp.Regexp
	rewrites []extract.Rewrite
}

type Defaults struct {
	MinOrder string `yaml:"min_order"`
}

type Listing struct {
	// Ready selectors mark a rendered result list.
	Ready []string `yaml:"ready"`
	Cards []string `yaml:"cards"`
	// ScrollSteps scrolls the page before reading cards to trigger lazy images.
	ScrollSteps int `yaml:"scroll_steps"`
	// ScrollAttempts keeps scrolling while the card count grows (infinite scroll).
	ScrollAttempts int    `yaml:"scroll_attempts"`
	MinResults     int    `yaml:"min_results"`
	Fields         Fields `yaml:"fields"`
}

type Pagination struct {
	Next       []string      `yaml:"next"`
	Disabled   []string      `yaml:"disabled"`
	TotalPages extract.Chain `yaml:"total_pages"`
}

type Detail struct {
	Ready                 []string      `yaml:"ready"`
	Fields                Fields        `yaml:"fields"`
	Features              extract.Chain `yaml:"features"`
	Specs                 []SpecRule    `yaml:"specs"`
	StructuredDescription bool          `yaml:"structured_description"`
	// Live fields are read from the live DOM instead of the HTML snapshot.
	Live []string `yaml:"live"`
}

// Enabled reports whether the site has a detail pass at all.
func (d Detail) Enabled() bool { return len(d.Ready) > 0 }

// IsLive reports whether field should be read from the live DOM.
func (d Detail) IsLive(field string) bool {
	for _, f := range d.Live {
		if f == field {
			return true
		}
	}
	return false
}

// Fields maps each logical record field to its selector chain.
type Fields struct {
	URL         extract.Chain `yaml:"url"`
	Title       extract.Chain `yaml:"title"`
	Price       extract.Chain `yaml:"price"`
	ListPrice   extract.Chain `yaml:"list_price"`
	Discount    extract.Chain `yaml:"discount"`
	Description extract.Chain `yaml:"description"`
	Seller      extract.Chain `yaml:"seller"`
	Origin      extract.Chain `yaml:"origin"`
	Rating      extract.Chain `yaml:"rating"`
	ReviewCount extract.Chain `yaml:"review_count"`
	MinOrder    extract.Chain `yaml:"min_order"`
	Brand       extract.Chain `yaml:"brand"`
	Dimensions  extract.Chain `yaml:"dimensions"`
	Videos      extract.Chain `yaml:"videos"`
	// Images lists <img> selectors; every image attribute of each match is a candidate.
	Images []string `yaml:"images"`
}

func (f *Fields) chains() map[string]*extract.Chain {
	return map[string]*extract.Chain{
		"url":          &f.URL,
		"title":        &f.Title,
		"price":        &f.Price,
		"list_price":   &f.ListPrice,
		"discount":     &f.Discount,
		"description":  &f.Description,
		"seller":       &f.Seller,
		"origin":       &f.Origin,
		"rating":       &f.Rating,
		"review_count": &f.ReviewCount,
		"min_order":    &f.MinOrder,
		"brand":        &f.Brand,
		"dimensions":   &f.Dimensions,
		"videos":       &f.Videos,
	}
}

// SpecRule reads key/value rows. With Key empty the row text is split on
// Separator ("Brand : Acme").
type SpecRule struct {
	Rows      string `yaml:"rows"`
	Key       string `yaml:"key"`
	Value     string `yaml:"value"`
	Separator string `yaml:"separator"`
	ValueJoin string `yaml:"value_join"`
}

type Challenge struct {
	Selectors    []string `yaml:"selectors"`
	URLMarkers   []string `yaml:"url_markers"`
	TextMarkers  []string `yaml:"text_markers"`
	TitleMarkers []string `yaml:"title_markers"`
}

type Images struct {
	Placeholders  []string      `yaml:"placeholders"`
	Resolution    string        `yaml:"resolution"`
	Rewrites      []RewriteRule `yaml:"rewrites"`
	ScriptPattern string        `yaml:"script_pattern"`
	Limit         int           `yaml:"limit"`
}

type RewriteRule struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// Parse decodes and validates one YAML table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	if err := t.Compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Compile validates the table and compiles its patterns.
func (t *Table) Compile() error {
	if t.Key == "" {
		return errors.New("table: key is required")
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("table %s: %s", t.Key, fmt.Sprintf(format, args...))
	}

	if t.Name == "" {
		t.Name = t.Key
	}
	base, err := url.Parse(t.BaseURL)
	if err != nil || !base.IsAbs() {
		return fail("base_url %q must be absolute", t.BaseURL)
	}
	if !strings.Contains(t.SearchURL, "{keyword}") || !strings.Contains(t.SearchURL, "{page}") {
		return fail("search_url must contain {keyword} and {page}")
	}
	if len(t.Listing.Cards) == 0 {
		return fail("listing.cards is required")
	}
	if t.Listing.Fields.URL.Empty() {
		return fail("listing.fields.url is required")
	}
	if t.Listing.MinResults < 0 {
		return fail("listing.min_results must not be negative")
	}

	for name, chain := range t.Listing.Fields.chains() {
		if err := chain.Compile(); err != nil {
			return fail("listing.%s: %v", name, err)
		}
	}
	for name, chain := range t.Detail.Fields.chains() {
		if err := chain.Compile(); err != nil {
			return fail("detail.%s: %v", name, err)
		}
	}
	if err := t.Detail.Features.Compile(); err != nil {
		return fail("detail.features: %v", err)
	}
	if err := t.Pagination.TotalPages.Compile(); err != nil {
		return fail("pagination.total_pages: %v", err)
	}
	for i, rule := range t.Detail.Specs {
		if rule.Rows == "" {
			return fail("detail.specs[%d]: rows is required", i)
		}
		if rule.Key == "" && rule.Separator == "" {
			return fail("detail.specs[%d]: key or separator is required", i)
		}
	}

	compile := func(field, pattern string) (*regexp.Regexp, error) {
		if pattern == "" {
			return nil, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fail("%s: %v", field, err)
		}
		return re, nil
	}
	if t.urlRe, err = compile("url_pattern", t.URLPattern); err != nil {
		return err
	}
	if t.dimRe, err = compile("dimension_pattern", t.DimensionPattern); err != nil {
		return err
	}
	if t.resRe, err = compile("images.resolution", t.Images.Resolution); err != nil {
		return err
	}
	if t.scriptRe, err = compile("images.script_pattern", t.Images.ScriptPattern); err != nil {
		return err
	}
	t.rewrites = t.rewrites[:0]
	for i, rw := range t.Images.Rewrites {
		re, err := compile("images.rewrites["+strconv.Itoa(i)+"]", rw.Pattern)
		if err != nil {
			return err
		}
		if re != nil {
			t.rewrites = append(t.rewrites, extract.Rewrite{Pattern: re, Replace: rw.Replace})
		}
	}
	return nil
}

// BuildSearchURL fills the search template for keyword and page.
func (t *Table) BuildSearchURL(keyword string, page int) string {
	r := strings.NewReplacer(
		"{keyword}", url.QueryEscape(strings.TrimSpace(keyword)),
		"{page}", strconv.Itoa(page),
	)
	return r.Replace(t.SearchURL)
}

// AcceptsURL reports whether a canonical URL is a product URL for the site.
func (t *Table) AcceptsURL(u string) bool {
	if t.urlRe == nil {
		return true
	}
	return t.urlRe.MatchString(u)
}

func (t *Table) ImageRules() extract.ImageRules {
	return extract.ImageRules{
		Placeholders: t.Images.Placeholders,
		Resolution:   t.resRe,
		Rewrites:     t.rewrites,
		Limit:        t.Images.Limit,
	}
}

// ScriptImages returns gallery URLs embedded in page scripts.
func (t *Table) ScriptImages(html string) []string {
	if t.scriptRe == nil {
		return nil
	}
	var out []string
	for _, m := range t.scriptRe.FindAllStringSubmatch(html, -1) {
		if len(m) > 1 {
			out = append(out, m[1])
		}
	}
	return out
}

func (t *Table) DimensionRegexp() *regexp.Regexp { return t.dimRe }
