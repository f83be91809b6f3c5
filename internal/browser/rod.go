package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/maltedev/marketplace-scraper/internal/extract"
)

// RodLauncher starts Chromium through go-rod. Every tab is created with
// stealth.Page, so fingerprint masking does not depend on InitScript.
type RodLauncher struct {
	opts   *Options
	logger *slog.Logger
}

func (l *RodLauncher) Launch(ctx context.Context) (Session, error) {
	opts := l.opts

	ln := launcher.New().
		Context(ctx).
		Headless(opts.Headless).
		Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", opts.ViewportWidth, opts.ViewportHeight))
	for _, arg := range opts.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			ln = ln.Set(flags.Flag(name), value)
		} else {
			ln = ln.Set(flags.Flag(name))
		}
	}
	if opts.ProxyServer != "" {
		ln = ln.Proxy(opts.ProxyServer)
	}

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	s := &rodSession{
		browser:   browser,
		launcher:  ln,
		opts:      opts,
		userAgent: opts.UserAgent,
		logger:    l.logger,
	}

	first, err := s.OpenTab(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.current = first.(*rodTab)

	l.logger.Info("browser session started", "headless", opts.Headless, "control_url", controlURL)
	return s, nil
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     *Options
	logger   *slog.Logger

	mu        sync.Mutex
	tabs      []*rodTab
	current   *rodTab
	userAgent string
	closed    bool
}

func (s *rodSession) Tabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		out = append(out, t)
	}
	return out
}

func (s *rodSession) Current() Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current
}

func (s *rodSession) OpenTab(ctx context.Context) (Tab, error) {
	if !s.Alive() {
		return nil, ErrSessionClosed
	}
	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	if s.opts.InitScript != "" {
		if _, err := page.EvalOnNewDocument(s.opts.InitScript); err != nil {
			s.logger.Warn("init script injection failed, proceeding without it", "error", err)
		}
	}
	if err := s.applyIdentity(page); err != nil {
		s.logger.Warn("failed to apply user agent to new tab", "error", err)
	}

	tab := &rodTab{page: page, opts: s.opts}
	s.mu.Lock()
	s.tabs = append(s.tabs, tab)
	s.mu.Unlock()
	return tab, nil
}

func (s *rodSession) applyIdentity(page *rod.Page) error {
	s.mu.Lock()
	ua := s.userAgent
	s.mu.Unlock()
	if ua == "" {
		return nil
	}
	return page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: s.opts.AcceptLanguage,
	})
}

func (s *rodSession) SwitchTo(tab Tab) error {
	t, ok := tab.(*rodTab)
	if !ok {
		return fmt.Errorf("foreign tab %T", tab)
	}
	if _, err := t.page.Activate(); err != nil {
		return fmt.Errorf("failed to focus tab: %w", err)
	}
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	return nil
}

// CloseTab closes tab and focuses the first remaining tab.
func (s *rodSession) CloseTab(tab Tab) error {
	t, ok := tab.(*rodTab)
	if !ok {
		return fmt.Errorf("foreign tab %T", tab)
	}

	var errs []error
	if err := t.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close tab: %w", err))
	}

	s.mu.Lock()
	for i, open := range s.tabs {
		if open == t {
			s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
			break
		}
	}
	var first *rodTab
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

// SetUserAgent applies userAgent to every open tab and to tabs opened later.
func (s *rodSession) SetUserAgent(ctx context.Context, userAgent string) error {
	s.mu.Lock()
	previous := s.userAgent
	s.userAgent = userAgent
	tabs := append([]*rodTab(nil), s.tabs...)
	s.mu.Unlock()

	var errs []error
	for _, t := range tabs {
		if err := s.applyIdentity(t.page.Context(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.mu.Lock()
		s.userAgent = previous
		s.mu.Unlock()
		return fmt.Errorf("failed to set user agent: %w", errors.Join(errs...))
	}
	return nil
}

func (s *rodSession) Alive() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	_, err := s.browser.Version()
	return err == nil
}

func (s *rodSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.browser != nil {
		if cerr := s.browser.Close(); cerr != nil {
			err = fmt.Errorf("failed to close browser: %w", cerr)
		}
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
	return err
}

type rodTab struct {
	page *rod.Page
	opts *Options
}

func (t *rodTab) Navigate(ctx context.Context, url string) error {
	p := t.page.Context(ctx).Timeout(t.opts.Timeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	return nil
}

func (t *rodTab) WaitFor(ctx context.Context, selectors []string, timeout time.Duration) error {
	if len(selectors) == 0 {
		return ctx.Err()
	}
	if _, err := t.page.Context(ctx).Timeout(timeout).Element(strings.Join(selectors, ", ")); err != nil {
		return fmt.Errorf("%w: %v: %v", ErrWaitTimeout, selectors, err)
	}
	return nil
}

func (t *rodTab) Scroll(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if _, err := t.page.Context(ctx).Eval(scrollStepScript); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := pause(ctx, t.opts.ScrollPause); err != nil {
			return err
		}
	}
	return nil
}

func (t *rodTab) Evaluate(ctx context.Context, js string) (any, error) {
	res, err := t.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (t *rodTab) Content(ctx context.Context) (string, error) {
	return t.page.Context(ctx).HTML()
}

func (t *rodTab) URL() string {
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (t *rodTab) Root() extract.Node {
	return &rodNode{page: t.page, timeout: t.opts.Timeout}
}

// rodNode is a live extract.Node over either the page or one element.
type rodNode struct {
	page    *rod.Page
	el      *rod.Element
	timeout time.Duration
}

func (n *rodNode) Find(selector string) ([]extract.Node, error) {
	var (
		els rod.Elements
		err error
	)
	if n.el != nil {
		els, err = n.el.Timeout(n.timeout).Elements(selector)
	} else {
		els, err = n.page.Timeout(n.timeout).Elements(selector)
	}
	if err != nil {
		return nil, err
	}
	out := make([]extract.Node, 0, len(els))
	for _, el := range els {
		out = append(out, &rodNode{el: el, timeout: n.timeout})
	}
	return out, nil
}

func (n *rodNode) Text() (string, error) {
	if n.el == nil {
		res, err := n.page.Timeout(n.timeout).Eval(`() => document.documentElement.textContent`)
		if err != nil {
			return "", err
		}
		return res.Value.Str(), nil
	}
	return n.el.Timeout(n.timeout).Text()
}

func (n *rodNode) Attr(name string) (string, bool, error) {
	if n.el == nil {
		return "", false, nil
	}
	v, err := n.el.Timeout(n.timeout).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (n *rodNode) Live() bool { return true }
