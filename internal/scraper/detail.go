package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/extract"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/sites"
)

// detailPass opens the product page in a second tab and merges the detail
// fields into a copy of d. On any failure d is returned untouched with the
// error; the listing tab is focused again either way.
func (j *job) detailPass(ctx context.Context, d *draft) (*draft, error) {
	if _, err := browser.EnsureSingleTab(j.session, j.logger); err != nil {
		return d, err
	}

	work := d.clone()
	err := browser.WithTab(ctx, j.session, j.logger, func(tab browser.Tab) error {
		if err := tab.Navigate(ctx, d.rec.URL); err != nil {
			return err
		}
		if err := tab.WaitFor(ctx, j.table.Detail.Ready, j.cfg.WaitTimeout); err != nil {
			return err
		}

		html, err := tab.Content(ctx)
		if err != nil {
			return fmt.Errorf("failed to read detail content: %w", err)
		}
		doc, err := extract.Parse(html)
		if err != nil {
			return err
		}
		if hit, reason := j.detector.Detect(tab.URL(), doc); hit {
			return fmt.Errorf("%w: %s", ErrChallenge, reason)
		}

		var live extract.Node
		if len(j.table.Detail.Live) > 0 {
			live = tab.Root()
		}

		j.applyFields(ctx, work, doc, live, j.table.Detail.Fields)
		j.readSpecs(doc, work.rec)
		work.features = j.readFeatures(ctx, doc)
		work.images = append(work.images, j.table.ScriptImages(html)...)
		return nil
	})
	if err != nil {
		return d, err
	}
	return work, nil
}

// readSpecs fills rec.Specifications from every spec rule. The first value
// seen for a key is kept.
func (j *job) readSpecs(doc extract.Node, rec *models.ProductRecord) {
	for _, rule := range j.table.Detail.Specs {
		rows, err := doc.Find(rule.Rows)
		if err != nil {
			continue
		}
		for _, row := range rows {
			k, v := specRow(row, rule)
			k = strings.TrimSpace(strings.TrimRight(k, ": "))
			if k == "" || v == "" {
				continue
			}
			if _, dup := rec.Specifications[k]; !dup {
				rec.Specifications[k] = v
			}
		}
	}
}

func specRow(row extract.Node, rule sites.SpecRule) (string, string) {
	if rule.Key == "" {
		text := nodeText(row)
		k, v, ok := strings.Cut(text, rule.Separator)
		if !ok {
			return "", ""
		}
		return extract.CleanText(k), extract.CleanText(v)
	}

	keyNode, ok := extract.First(row, rule.Key)
	if !ok {
		return "", ""
	}
	key := nodeText(keyNode)

	if rule.Value == "" {
		return key, extract.CleanText(strings.TrimPrefix(nodeText(row), key))
	}
	values, err := row.Find(rule.Value)
	if err != nil || len(values) == 0 {
		return key, ""
	}
	if rule.ValueJoin == "" {
		return key, nodeText(values[0])
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if t := nodeText(v); t != "" {
			parts = append(parts, t)
		}
	}
	return key, strings.Join(parts, rule.ValueJoin)
}

func nodeText(n extract.Node) string {
	t, err := n.Text()
	if err != nil {
		return ""
	}
	return extract.CleanText(t)
}

// readFeatures returns the cleaned, deduplicated feature bullets.
func (j *job) readFeatures(ctx context.Context, doc extract.Node) []string {
	if j.table.Detail.Features.Empty() {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, f := range j.x.ExtractAll(ctx, doc, j.table.Detail.Features) {
		f = extract.CleanText(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
