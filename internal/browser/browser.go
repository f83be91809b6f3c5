package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/extract"
)

var (
	ErrNavigation    = errors.New("navigation failed")
	ErrWaitTimeout   = errors.New("wait condition timed out")
	ErrTabPanic      = errors.New("tab excursion panicked")
	ErrSessionClosed = errors.New("browser session closed")
	ErrUnknownDriver = errors.New("unknown browser driver")
)

const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

// Tab is one page inside a session.
type Tab interface {
	// Navigate loads url and returns once the DOM is parsed. Failures wrap
	// ErrNavigation.
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until any of selectors is attached or timeout elapses
	// (ErrWaitTimeout).
	WaitFor(ctx context.Context, selectors []string, timeout time.Duration) error
	Scroll(ctx context.Context, steps int) error
	Evaluate(ctx context.Context, js string) (any, error)
	// Content returns the current document HTML.
	Content(ctx context.Context) (string, error)
	URL() string
	// Root is a live handle on the document element.
	Root() extract.Node
}

// Session owns exactly one browser process. The first tab is the listing
// tab; CloseTab always refocuses it.
type Session interface {
	Tabs() []Tab
	Current() Tab
	OpenTab(ctx context.Context) (Tab, error)
	SwitchTo(tab Tab) error
	CloseTab(tab Tab) error
	SetUserAgent(ctx context.Context, userAgent string) error
	Alive() bool
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	// InitScript runs in every new document before page scripts.
	InitScript string
	Args       []string
	// ScrollPause is the settle time after each scroll step.
	ScrollPause time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "Asia/Kolkata",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
		ScrollPause: 800 * time.Millisecond,
	}
}

// NewLauncher returns the launcher for driver.
func NewLauncher(driver string, opts *Options, logger *slog.Logger) (Launcher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPlaywright:
		return &PlaywrightLauncher{opts: opts, logger: logger.With("component", "browser", "driver", DriverPlaywright)}, nil
	case DriverRod:
		return &RodLauncher{opts: opts, logger: logger.With("component", "browser", "driver", DriverRod)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

const scrollStepScript = `() => { window.scrollBy(0, window.innerHeight); return document.body ? document.body.scrollHeight : 0; }`

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
