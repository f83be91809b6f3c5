package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/ratelimit"
)

type pageOutcome int

const (
	outcomeSuccess pageOutcome = iota
	outcomeChallenge
	outcomeNoProducts
	outcomeError
)

func (o pageOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeChallenge:
		return "challenge"
	case outcomeNoProducts:
		return "no_products"
	default:
		return "error"
	}
}

type pageResult struct {
	outcome    pageOutcome
	cards      int
	added      int
	hasNext    bool
	totalPages int
	err        error
}

type jobStats struct {
	pages      int
	challenges int
	retries    int
}

// paginate drives the page loop. It returns an error only for fatal
// conditions: a lost session or a cancelled context.
func (j *job) paginate(ctx context.Context, maxPages int) (jobStats, error) {
	var stats jobStats
	challengeBudget := j.cfg.PageRetries
	page, attempt := 1, 0

	for page <= maxPages {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("job cancelled: %w", err)
		}
		if !j.session.Alive() {
			return stats, ErrSessionLost
		}

		if attempt == 0 {
			if err := j.pacer.Wait(ctx); err != nil {
				return stats, fmt.Errorf("job cancelled: %w", err)
			}
		} else {
			delay := j.backoff(attempt)
			j.logger.Info("retrying page", "page", page, "attempt", attempt+1, "backoff", delay)
			if err := ratelimit.Sleep(ctx, delay); err != nil {
				return stats, fmt.Errorf("job cancelled: %w", err)
			}
		}

		res := j.processPage(ctx, page)
		j.logger.Info("page processed",
			"page", page,
			"outcome", res.outcome.String(),
			"cards", res.cards,
			"added", res.added,
			"total", j.agg.Len(),
		)

		switch res.outcome {
		case outcomeSuccess:
			stats.pages++
			attempt = 0
			if more, reason := j.shouldContinue(page, maxPages, res); !more {
				j.logger.Info("pagination finished", "page", page, "reason", reason)
				return stats, nil
			}
			page++

		case outcomeChallenge:
			stats.challenges++
			attempt = 0
			if challengeBudget <= 0 {
				j.logger.Warn("challenge budget exhausted, stopping", "page", page)
				return stats, nil
			}
			challengeBudget--
			j.logger.Warn("challenge detected, skipping page", "page", page, "reason", res.err)
			page++

		case outcomeNoProducts:
			j.logger.Warn("no products found", "page", page)
			return stats, nil

		case outcomeError:
			if errors.Is(res.err, ErrSessionLost) || errors.Is(res.err, browser.ErrSessionClosed) || !j.session.Alive() {
				j.logger.Error("browser session lost", "page", page, "error", res.err)
				return stats, fmt.Errorf("%w: %v", ErrSessionLost, res.err)
			}
			if ctx.Err() != nil {
				return stats, fmt.Errorf("job cancelled: %w", ctx.Err())
			}
			attempt++
			stats.retries++
			j.logger.Warn("page failed", "page", page, "attempt", attempt, "error", res.err)
			if attempt >= j.cfg.PageRetries {
				j.logger.Error("page retries exhausted, stopping", "page", page, "attempts", attempt)
				return stats, nil
			}
		}
	}
	return stats, nil
}

// shouldContinue applies the termination rules in priority order.
func (j *job) shouldContinue(page, maxPages int, res pageResult) (bool, string) {
	switch {
	case page >= maxPages:
		return false, "max pages reached"
	case !res.hasNext:
		return false, "no next page"
	case res.cards < j.table.Listing.MinResults:
		return false, "too few results"
	case res.totalPages > 0 && page >= res.totalPages:
		return false, "last page reached"
	}
	return true, ""
}
