package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/marketplace-scraper/internal/extract"
)

// PlaywrightLauncher starts Chromium through playwright. Tabs are pages of a
// single browser context.
type PlaywrightLauncher struct {
	opts   *Options
	logger *slog.Logger
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	opts := l.opts

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args:     append([]string{"--user-agent=" + opts.UserAgent}, opts.Args...),
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := map[string]string{}
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if opts.InitScript != "" {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(opts.InitScript)}); err != nil {
			l.logger.Warn("init script injection failed, proceeding without it", "error", err)
		}
	}

	s := &pwSession{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		headers: headers,
		logger:  l.logger,
	}

	first, err := s.OpenTab(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.current = first.(*pwTab)

	l.logger.Info("browser session started", "headless", opts.Headless)
	return s, nil
}

type pwSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	headers map[string]string
	logger  *slog.Logger

	mu      sync.Mutex
	tabs    []*pwTab
	current *pwTab
	closed  bool
}

func (s *pwSession) Tabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		out = append(out, t)
	}
	return out
}

func (s *pwSession) Current() Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current
}

func (s *pwSession) OpenTab(ctx context.Context) (Tab, error) {
	if !s.Alive() {
		return nil, ErrSessionClosed
	}
	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(s.opts.Timeout.Milliseconds()))

	tab := &pwTab{page: page, opts: s.opts}
	s.mu.Lock()
	s.tabs = append(s.tabs, tab)
	s.mu.Unlock()
	return tab, nil
}

func (s *pwSession) SwitchTo(tab Tab) error {
	t, ok := tab.(*pwTab)
	if !ok {
		return fmt.Errorf("foreign tab %T", tab)
	}
	if err := t.page.BringToFront(); err != nil {
		return fmt.Errorf("failed to focus tab: %w", err)
	}
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	return nil
}

// CloseTab closes tab and focuses the first remaining tab.
func (s *pwSession) CloseTab(tab Tab) error {
	t, ok := tab.(*pwTab)
	if !ok {
		return fmt.Errorf("foreign tab %T", tab)
	}

	var errs []error
	if !t.page.IsClosed() {
		if err := t.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tab: %w", err))
		}
	}

	s.mu.Lock()
	for i, open := range s.tabs {
		if open == t {
			s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
			break
		}
	}
	var first *pwTab
	if len(s.tabs) > 0 {
		first = s.tabs[0]
	}
	s.mu.Unlock()

	if first != nil {
		if err := s.SwitchTo(first); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetUserAgent swaps the user agent of every open tab through CDP. Headers
// are the fallback when CDP is unavailable.
func (s *pwSession) SetUserAgent(ctx context.Context, userAgent string) error {
	s.mu.Lock()
	tabs := append([]*pwTab(nil), s.tabs...)
	s.mu.Unlock()

	var errs []error
	for _, t := range tabs {
		cdp, err := s.context.NewCDPSession(t.page)
		if err == nil {
			_, err = cdp.Send("Network.setUserAgentOverride", map[string]interface{}{
				"userAgent":      userAgent,
				"acceptLanguage": s.opts.AcceptLanguage,
			})
			cdp.Detach()
		}
		if err != nil {
			headers := map[string]string{"User-Agent": userAgent}
			for k, v := range s.headers {
				headers[k] = v
			}
			if herr := t.page.SetExtraHTTPHeaders(headers); herr != nil {
				errs = append(errs, fmt.Errorf("failed to set user agent: %w", errors.Join(err, herr)))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *pwSession) Alive() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return !closed && s.browser != nil && s.browser.IsConnected()
}

func (s *pwSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

type pwTab struct {
	page playwright.Page
	opts *Options
}

func (t *pwTab) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(t.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	return nil
}

func (t *pwTab) WaitFor(ctx context.Context, selectors []string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(selectors) == 0 {
		return nil
	}
	err := t.page.Locator(strings.Join(selectors, ", ")).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("%w: %v: %v", ErrWaitTimeout, selectors, err)
	}
	return nil
}

func (t *pwTab) Scroll(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if _, err := t.page.Evaluate(scrollStepScript); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := pause(ctx, t.opts.ScrollPause); err != nil {
			return err
		}
	}
	return nil
}

func (t *pwTab) Evaluate(ctx context.Context, js string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.page.Evaluate(js)
}

func (t *pwTab) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.page.Content()
}

func (t *pwTab) URL() string { return t.page.URL() }

func (t *pwTab) Root() extract.Node {
	return &pwNode{loc: t.page.Locator("html"), timeout: t.opts.Timeout}
}

// pwNode is a live extract.Node backed by a playwright locator.
type pwNode struct {
	loc     playwright.Locator
	timeout time.Duration
}

func (n *pwNode) Find(selector string) ([]extract.Node, error) {
	all, err := n.loc.Locator(selector).All()
	if err != nil {
		return nil, err
	}
	out := make([]extract.Node, 0, len(all))
	for _, l := range all {
		out = append(out, &pwNode{loc: l, timeout: n.timeout})
	}
	return out, nil
}

func (n *pwNode) Text() (string, error) {
	return n.loc.TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(float64(n.timeout.Milliseconds())),
	})
}

func (n *pwNode) Attr(name string) (string, bool, error) {
	v, err := n.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(float64(n.timeout.Milliseconds())),
	})
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}

func (n *pwNode) Live() bool { return true }
