package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// WithTab runs fn inside a freshly opened tab. The tab is closed and the
// previously focused tab refocused on every exit path, including a panic
// in fn, which is returned as ErrTabPanic. Cleanup failures are logged.
func WithTab(ctx context.Context, s Session, logger *slog.Logger, fn func(Tab) error) (err error) {
	if logger == nil {
		logger = slog.Default()
	}
	origin := s.Current()

	tab, err := s.OpenTab(ctx)
	if err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTabPanic, r)
		}
		if cerr := s.CloseTab(tab); cerr != nil {
			logger.Warn("failed to close tab", "error", cerr)
		}
		if origin != nil && s.Current() != origin {
			if serr := s.SwitchTo(origin); serr != nil {
				logger.Warn("failed to refocus original tab", "error", serr)
			}
		}
	}()

	if err := s.SwitchTo(tab); err != nil {
		return fmt.Errorf("failed to focus new tab: %w", err)
	}
	return fn(tab)
}

// EnsureSingleTab closes every tab but the first and focuses it. It returns
// the number of tabs closed.
func EnsureSingleTab(s Session, logger *slog.Logger) (int, error) {
	tabs := s.Tabs()
	if len(tabs) == 0 {
		return 0, ErrSessionClosed
	}
	if len(tabs) == 1 && s.Current() == tabs[0] {
		return 0, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	closed := 0
	for _, extra := range tabs[1:] {
		if err := s.CloseTab(extra); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	if s.Current() != tabs[0] {
		if err := s.SwitchTo(tabs[0]); err != nil {
			errs = append(errs, err)
		}
	}
	if closed > 0 {
		logger.Warn("closed leftover tabs", "count", closed)
	}
	return closed, errors.Join(errs...)
}
