package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

var (
	invisibleRe  = regexp.MustCompile(`[\x{2000}-\x{200F}\x{2028}-\x{202F}\x{FEFF}\x{00AD}]+`)
	controlRe    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]+`)
	codepointRe  = regexp.MustCompile(`\[U\+[0-9A-Fa-f]+\]`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	priceRe   = regexp.MustCompile(`^([^\d]*?)\s*(\d[\d,]*(?:\.\d+)?)`)
	numberRe  = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	ratingRe  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	integerRe = regexp.MustCompile(`\d[\d,.]*`)
	digitsRe  = regexp.MustCompile(`\d+`)
)

// DefaultAskMarkers flag listings that publish no price.
var DefaultAskMarkers = []string{"contact", "ask price", "negotiable", "call for price", "get latest price"}

// CleanText strips zero-width and control characters and collapses
// whitespace runs to single spaces.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = invisibleRe.ReplaceAllString(s, "")
	s = controlRe.ReplaceAllString(s, "")
	s = codepointRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Truncate caps s at max runes, ending with "..." when it had to cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return strings.TrimSpace(string([]rune(s)[:max-3])) + "..."
}

// ParsePrice splits "US$ 1,234.50" into currency "US$" and amount
// "1234.50". Any ask marker short-circuits to the AskPrice sentinel.
func ParsePrice(raw string, askMarkers []string) models.Price {
	unknown := models.Price{Currency: models.Unknown, Amount: models.Unknown}
	raw = CleanText(raw)
	if raw == "" || raw == models.Unknown {
		return unknown
	}

	if askMarkers == nil {
		askMarkers = DefaultAskMarkers
	}
	lower := strings.ToLower(raw)
	for _, m := range askMarkers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return models.Price{Currency: models.Unknown, Amount: models.AskPrice}
		}
	}

	m := priceRe.FindStringSubmatch(raw)
	if m == nil {
		return unknown
	}
	currency := strings.Join(strings.Fields(m[1]), "")
	currency = strings.TrimRight(currency, ":")
	return models.Price{
		Currency: models.Or(currency, models.Unknown),
		Amount:   strings.ReplaceAll(m[2], ",", ""),
	}
}

// ParseAmount reads the first number in s, ignoring thousands separators.
func ParseAmount(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ComputeDiscount prefers explicit discount text. Otherwise it derives the
// percentage from list and current price when the list price is higher.
func ComputeDiscount(explicit, listPrice, price string) string {
	if e := CleanText(explicit); models.IsKnown(e) {
		return e
	}
	if !models.IsKnown(listPrice) || !models.IsKnown(price) {
		return models.Unknown
	}
	lp, ok1 := ParseAmount(listPrice)
	p, ok2 := ParseAmount(price)
	if !ok1 || !ok2 || lp <= 0 || lp <= p {
		return models.Unknown
	}
	return fmt.Sprintf("%.2f%% off", (lp-p)/lp*100)
}

var brandKeys = map[string]bool{
	"brand":         true,
	"brand name":    true,
	"brandname":     true,
	"brand_name":    true,
	"brand/make":    true,
	"product brand": true,
	"marke":         true,
}

// BrandFromSpecs looks up the brand under the usual key spellings.
func BrandFromSpecs(specs map[string]string) string {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		norm := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(CleanText(k), ":")))
		if brandKeys[norm] && models.IsKnown(CleanText(specs[k])) {
			return CleanText(specs[k])
		}
	}
	return models.Unknown
}

// InferBrand resolves a brand from the specifications first, then from a
// list of known brands found in the title, then from the first keyword
// token when the title contains it.
func InferBrand(specs map[string]string, known []string, keyword, title string) string {
	if b := BrandFromSpecs(specs); models.IsKnown(b) {
		return b
	}
	if !models.IsKnown(title) {
		return models.Unknown
	}
	lowerTitle := strings.ToLower(title)
	for _, b := range known {
		if b != "" && strings.Contains(lowerTitle, strings.ToLower(b)) {
			return titleCase(b)
		}
	}
	tokens := strings.Fields(keyword)
	if len(tokens) == 0 {
		return models.Unknown
	}
	first := strings.ToLower(tokens[0])
	if idx := strings.Index(lowerTitle, first); idx >= 0 {
		if len(lowerTitle) == len(title) {
			return title[idx : idx+len(first)]
		}
		return tokens[0]
	}
	return models.Unknown
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(string(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// ParseRating returns the first decimal number, "4.3 out of 5 stars" -> "4.3".
func ParseRating(raw string) (string, error) {
	m := ratingRe.FindString(raw)
	if m == "" {
		return "", fmt.Errorf("no rating in %q", raw)
	}
	return strings.ReplaceAll(m, ",", "."), nil
}

// ParseReviewCount returns the digits of the first count, "(1,234 ratings)" -> "1234".
func ParseReviewCount(raw string) (string, error) {
	m := integerRe.FindString(raw)
	if m == "" {
		return "", fmt.Errorf("no review count in %q", raw)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m)
	return digits, nil
}

// ParsePageCount reads the largest integer in s, used for "1 2 3 ... 20".
func ParsePageCount(s string) int {
	best := 0
	for _, m := range digitsRe.FindAllString(s, -1) {
		if n, err := strconv.Atoi(m); err == nil && n > best {
			best = n
		}
	}
	return best
}

// StripMarkers removes marker substrings such as "(MOQ)" and cleans the rest.
func StripMarkers(s string, markers []string) string {
	for _, m := range markers {
		s = strings.ReplaceAll(s, m, "")
	}
	return CleanText(s)
}

// Dimensions applies pattern to spec values whose key mentions one of
// keys and renders the hits as "label: value (match)" joined by "; ".
func Dimensions(specs map[string]string, pattern *regexp.Regexp, keys []string) string {
	if pattern == nil || len(specs) == 0 {
		return models.Unknown
	}
	labels := make([]string, 0, len(specs))
	for k := range specs {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	var parts []string
	for _, label := range labels {
		lower := strings.ToLower(label)
		if !containsAny(lower, keys) {
			continue
		}
		value := specs[label]
		for _, m := range pattern.FindAllString(value, -1) {
			parts = append(parts, fmt.Sprintf("%s: %s (%s)", lower, value, m))
		}
	}
	if len(parts) == 0 {
		return models.Unknown
	}
	return strings.Join(parts, "; ")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CanonicalURL resolves href against base, upgrades protocol-relative
// links to https and strips query, fragment and any stripAfter marker.
func CanonicalURL(href, base string, stripAfter []string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || href == models.Unknown {
		return "", fmt.Errorf("empty url")
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", href, err)
	}
	if !u.IsAbs() {
		b, err := url.Parse(base)
		if err != nil || !b.IsAbs() {
			return "", fmt.Errorf("relative url %q without base", href)
		}
		u = b.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", href)
	}
	u.RawQuery = ""
	u.Fragment = ""
	out := u.String()
	for _, marker := range stripAfter {
		if idx := strings.Index(out, marker); marker != "" && idx > 0 {
			out = out[:idx]
		}
	}
	return out, nil
}
