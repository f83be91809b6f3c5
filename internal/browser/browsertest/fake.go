// Package browsertest provides an in-memory browser session that replays
// fixed HTML per URL.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/extract"
)

// Session is a fake browser.Session. Unregistered URLs fail navigation.
type Session struct {
	mu           sync.Mutex
	pages        map[string][]string
	navFailures  map[string]int
	contentPanic map[string]bool
	crashOn      map[string]bool
	tabs         []*Tab
	current      *Tab
	closed       bool

	userAgents []string
	uaErr      error
	visits     []string
	maxTabs    int
	launches   int
	launchErr  error
}

func New() *Session {
	s := &Session{
		pages:        map[string][]string{},
		navFailures:  map[string]int{},
		contentPanic: map[string]bool{},
		crashOn:      map[string]bool{},
	}
	s.reset()
	return s
}

func (s *Session) reset() {
	first := &Tab{session: s}
	s.tabs = []*Tab{first}
	s.current = first
	s.closed = false
	s.maxTabs = 1
}

// SetPage registers the HTML served at url. Extra stages are revealed one
// per Scroll call, which models infinite scroll.
func (s *Session) SetPage(url, html string, stages ...string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = append([]string{html}, stages...)
	return s
}

// FailNavigation makes the next times navigations to url fail.
func (s *Session) FailNavigation(url string, times int) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navFailures[url] = times
	return s
}

// PanicOnContent makes Content and Root panic while url is loaded.
func (s *Session) PanicOnContent(url string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentPanic[url] = true
	return s
}

// CrashOn kills the session when url is navigated to.
func (s *Session) CrashOn(url string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashOn[url] = true
	return s
}

// FailUserAgent makes SetUserAgent return err.
func (s *Session) FailUserAgent(err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uaErr = err
	return s
}

// FailLaunch makes Launch return err.
func (s *Session) FailLaunch(err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launchErr = err
	return s
}

// Crash simulates the browser process dying.
func (s *Session) Crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Visits lists every navigated URL in order, failed attempts included.
func (s *Session) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// VisitCount returns how often url was navigated to.
func (s *Session) VisitCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.visits {
		if v == url {
			n++
		}
	}
	return n
}

// MaxTabs is the highest number of tabs open at once.
func (s *Session) MaxTabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxTabs
}

func (s *Session) UserAgents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.userAgents...)
}

func (s *Session) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

// Launch implements browser.Launcher. Each launch starts from one tab.
func (s *Session) Launch(ctx context.Context) (browser.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launches++
	if s.launchErr != nil {
		return nil, s.launchErr
	}
	s.reset()
	return s, nil
}

func (s *Session) Tabs() []browser.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]browser.Tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		out = append(out, t)
	}
	return out
}

func (s *Session) Current() browser.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current
}

func (s *Session) OpenTab(ctx context.Context) (browser.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSessionClosed
	}
	t := &Tab{session: s}
	s.tabs = append(s.tabs, t)
	if len(s.tabs) > s.maxTabs {
		s.maxTabs = len(s.tabs)
	}
	return t, nil
}

func (s *Session) SwitchTo(tab browser.Tab) error {
	t, ok := tab.(*Tab)
	if !ok {
		return fmt.Errorf("foreign tab %T", tab)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, open := range s.tabs {
		if open == t {
			s.current = t
			return nil
		}
	}
	return errors.New("tab is closed")
}

func (s *Session) CloseTab(tab browser.Tab) error {
	t, ok := tab.(*Tab)
	if !ok {
		return fmt.Errorf("foreign tab %T", tab)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, open := range s.tabs {
		if open == t {
			s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
			break
		}
	}
	if len(s.tabs) > 0 {
		s.current = s.tabs[0]
	} else {
		s.current = nil
	}
	return nil
}

func (s *Session) SetUserAgent(ctx context.Context, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uaErr != nil {
		return s.uaErr
	}
	s.userAgents = append(s.userAgents, userAgent)
	return nil
}

func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Tab is a fake browser.Tab.
type Tab struct {
	session *Session
	url     string
	stage   int
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := t.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return browser.ErrSessionClosed
	}
	s.visits = append(s.visits, url)
	if s.crashOn[url] {
		s.closed = true
		return fmt.Errorf("%w: crashed loading %s", browser.ErrSessionClosed, url)
	}
	if n := s.navFailures[url]; n > 0 {
		s.navFailures[url] = n - 1
		return fmt.Errorf("%w: %s: injected failure", browser.ErrNavigation, url)
	}
	if _, ok := s.pages[url]; !ok {
		return fmt.Errorf("%w: %s: not found", browser.ErrNavigation, url)
	}
	t.url = url
	t.stage = 0
	return nil
}

func (t *Tab) WaitFor(ctx context.Context, selectors []string, timeout time.Duration) error {
	if len(selectors) == 0 {
		return nil
	}
	doc, err := extract.Parse(t.html())
	if err != nil {
		return err
	}
	if _, ok := extract.First(doc, selectors...); ok {
		return nil
	}
	return fmt.Errorf("%w: %v", browser.ErrWaitTimeout, selectors)
}

func (t *Tab) Scroll(ctx context.Context, steps int) error {
	s := t.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if last := len(s.pages[t.url]) - 1; t.stage < last {
		t.stage++
	}
	return nil
}

func (t *Tab) Evaluate(ctx context.Context, js string) (any, error) {
	return nil, nil
}

func (t *Tab) Content(ctx context.Context) (string, error) {
	t.checkPanic()
	return t.html(), nil
}

func (t *Tab) URL() string {
	t.session.mu.Lock()
	defer t.session.mu.Unlock()
	return t.url
}

// Root parses the current HTML; the fake has no live DOM.
func (t *Tab) Root() extract.Node {
	t.checkPanic()
	return extract.MustParse(t.html())
}

func (t *Tab) checkPanic() {
	s := t.session
	s.mu.Lock()
	doPanic := s.contentPanic[t.url]
	s.mu.Unlock()
	if doPanic {
		panic("browsertest: injected content panic for " + t.url)
	}
}

func (t *Tab) html() string {
	s := t.session
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := s.pages[t.url]
	if len(stages) == 0 {
		return "<html><head></head><body></body></html>"
	}
	return stages[t.stage]
}

var (
	_ browser.Session  = (*Session)(nil)
	_ browser.Launcher = (*Session)(nil)
	_ browser.Tab      = (*Tab)(nil)
)
