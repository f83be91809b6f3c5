package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/extract"
)

// processPage loads one search result page in the listing tab and runs the
// listing and detail passes over its cards.
func (j *job) processPage(ctx context.Context, page int) (res pageResult) {
	defer func() {
		if r := recover(); r != nil {
			res = pageResult{outcome: outcomeError, err: fmt.Errorf("page %d panicked: %v", page, r)}
		}
	}()

	if _, err := browser.EnsureSingleTab(j.session, j.logger); err != nil {
		return pageResult{outcome: outcomeError, err: err}
	}
	j.rotator.Rotate(ctx, j.session)

	tab := j.session.Current()
	if tab == nil {
		return pageResult{outcome: outcomeError, err: ErrSessionLost}
	}

	searchURL := j.table.BuildSearchURL(j.keyword, page)
	j.logger.Debug("requesting page", "page", page, "url", searchURL)
	if err := tab.Navigate(ctx, searchURL); err != nil {
		return pageResult{outcome: outcomeError, err: err}
	}

	if err := tab.WaitFor(ctx, j.table.Listing.Ready, j.cfg.WaitTimeout); err != nil {
		if doc, perr := j.snapshot(ctx, tab); perr == nil {
			if hit, reason := j.detector.Detect(tab.URL(), doc); hit {
				return pageResult{outcome: outcomeChallenge, err: fmt.Errorf("%w: %s", ErrChallenge, reason)}
			}
		}
		return pageResult{outcome: outcomeError, err: err}
	}

	j.loadMore(ctx, tab)

	doc, err := j.snapshot(ctx, tab)
	if err != nil {
		return pageResult{outcome: outcomeError, err: err}
	}
	if hit, reason := j.detector.Detect(tab.URL(), doc); hit {
		return pageResult{outcome: outcomeChallenge, err: fmt.Errorf("%w: %s", ErrChallenge, reason)}
	}

	cards, _ := extract.FindAny(doc, j.table.Listing.Cards...)
	if len(cards) == 0 {
		return pageResult{outcome: outcomeNoProducts}
	}

	res = pageResult{outcome: outcomeSuccess, cards: len(cards)}
	res.hasNext, res.totalPages = j.pagination(ctx, doc)

	for i, card := range cards {
		if err := ctx.Err(); err != nil {
			return pageResult{outcome: outcomeError, cards: len(cards), err: err}
		}
		if !j.session.Alive() {
			return pageResult{outcome: outcomeError, cards: len(cards), err: ErrSessionLost}
		}
		if j.processCard(ctx, card, i) {
			res.added++
		}
	}
	return res
}

// snapshot parses the tab's current HTML.
func (j *job) snapshot(ctx context.Context, tab browser.Tab) (extract.Node, error) {
	html, err := tab.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}
	return extract.Parse(html)
}

// loadMore scrolls to trigger lazy images, then keeps scrolling while the
// card count grows for infinite-scroll sites.
func (j *job) loadMore(ctx context.Context, tab browser.Tab) {
	l := j.table.Listing
	if l.ScrollSteps > 0 {
		if err := tab.Scroll(ctx, l.ScrollSteps); err != nil {
			j.logger.Debug("scroll failed", "error", err)
		}
	}

	prev := -1
	for i := 0; i < l.ScrollAttempts; i++ {
		doc, err := j.snapshot(ctx, tab)
		if err != nil {
			return
		}
		cards, _ := extract.FindAny(doc, l.Cards...)
		if len(cards) <= prev {
			return
		}
		prev = len(cards)
		if err := tab.Scroll(ctx, 1); err != nil {
			j.logger.Debug("scroll failed", "error", err)
			return
		}
	}
}

// pagination reads the next-page affordance and the total page count.
// Sites without next selectors always report a next page.
func (j *job) pagination(ctx context.Context, doc extract.Node) (bool, int) {
	p := j.table.Pagination

	hasNext := true
	if len(p.Next) > 0 {
		_, found := extract.First(doc, p.Next...)
		_, disabled := extract.First(doc, p.Disabled...)
		hasNext = found && !disabled
	}

	total := 0
	if !p.TotalPages.Empty() {
		total = extract.ParsePageCount(j.x.Extract(ctx, doc, p.TotalPages, nil))
	}
	return hasNext, total
}

// processCard runs the listing pass over one card, then the detail pass,
// and hands the record to the aggregator. It reports whether a record was
// added.
func (j *job) processCard(ctx context.Context, card extract.Node, index int) bool {
	href := j.x.Extract(ctx, card, j.table.Listing.Fields.URL, nil)
	canonical, err := extract.CanonicalURL(href, j.table.BaseURL, j.table.StripAfter)
	if err != nil {
		j.logger.Debug("skipping card without usable url", "index", index, "error", err)
		return false
	}
	if !j.table.AcceptsURL(canonical) {
		j.logger.Debug("skipping non-product url", "index", index, "url", canonical)
		return false
	}
	// First seen wins; a duplicate skips the detail pass entirely.
	if j.agg.Seen(canonical) {
		j.logger.Debug("duplicate url, skipping", "url", canonical)
		return false
	}

	d := newDraft(j.table.Key, canonical)
	j.applyFields(ctx, d, card, nil, j.table.Listing.Fields)

	if !j.relevant(d) {
		j.logger.Debug("skipping irrelevant card", "url", canonical, "title", d.rec.Title)
		return false
	}

	if j.table.Detail.Enabled() && !j.cfg.SkipDetails {
		detailed, err := j.detailPass(ctx, d)
		switch {
		case err == nil:
			d = detailed
			if !j.relevant(d) {
				j.logger.Debug("skipping irrelevant product", "url", canonical, "title", d.rec.Title)
				return false
			}
		case d.hasTitle():
			j.logger.Warn("detail pass failed, keeping listing fields", "url", canonical, "error", err)
		default:
			j.logger.Warn("detail pass failed, discarding record", "url", canonical, "error", err)
			return false
		}
	}

	return j.agg.Upsert(j.finish(d))
}

// relevant applies the keyword-in-title filter for sites that need it.
func (j *job) relevant(d *draft) bool {
	if !j.table.RequireKeywordInTitle {
		return true
	}
	return d.hasTitle() && strings.Contains(strings.ToLower(d.rec.Title), strings.ToLower(j.keyword))
}
