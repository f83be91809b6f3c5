package antidetect

import (
	"strings"

	"github.com/maltedev/marketplace-scraper/internal/extract"
	"github.com/maltedev/marketplace-scraper/internal/sites"
)

var (
	defaultSelectors = []string{
		"form[action*='captcha']",
		"iframe[src*='recaptcha']",
		"iframe[src*='hcaptcha']",
		"div.g-recaptcha",
		"#challenge-form",
		"#cf-challenge-running",
	}
	defaultTitleMarkers = []string{"robot check", "attention required", "just a moment", "access denied", "are you a robot"}
)

// Detector recognizes bot-verification interstitials. It only reports
// them; callers abandon the page.
type Detector struct {
	selectors    []string
	urlMarkers   []string
	textMarkers  []string
	titleMarkers []string
}

func NewDetector(c sites.Challenge) *Detector {
	return &Detector{
		selectors:    append(append([]string{}, defaultSelectors...), c.Selectors...),
		urlMarkers:   lower(c.URLMarkers),
		textMarkers:  lower(c.TextMarkers),
		titleMarkers: append(append([]string{}, defaultTitleMarkers...), lower(c.TitleMarkers)...),
	}
}

// Detect checks the URL and the document. The reason names the marker hit.
func (d *Detector) Detect(pageURL string, doc extract.Node) (bool, string) {
	u := strings.ToLower(pageURL)
	for _, m := range d.urlMarkers {
		if m != "" && strings.Contains(u, m) {
			return true, "url:" + m
		}
	}
	if doc == nil {
		return false, ""
	}

	for _, sel := range d.selectors {
		if found, err := doc.Find(sel); err == nil && len(found) > 0 {
			return true, "selector:" + sel
		}
	}

	if title, ok := extract.First(doc, "title"); ok {
		text, _ := title.Text()
		text = strings.ToLower(text)
		for _, m := range d.titleMarkers {
			if strings.Contains(text, m) {
				return true, "title:" + m
			}
		}
	}

	if len(d.textMarkers) > 0 {
		if body, ok := extract.First(doc, "body"); ok {
			text, _ := body.Text()
			text = strings.ToLower(extract.CleanText(text))
			for _, m := range d.textMarkers {
				if m != "" && strings.Contains(text, m) {
					return true, "text:" + m
				}
			}
		}
	}
	return false, ""
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
