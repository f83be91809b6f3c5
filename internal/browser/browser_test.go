package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/browser/browsertest"
)

func TestDefaultOptions(t *testing.T) {
	opts := browser.DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "en-US", opts.Locale)
}

func TestNewLauncher(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"", false},
		{"playwright", false},
		{" Rod ", false},
		{"chromedp", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			l, err := browser.NewLauncher(tt.driver, nil, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, browser.ErrUnknownDriver)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func launch(t *testing.T, fake *browsertest.Session) browser.Session {
	t.Helper()
	s, err := fake.Launch(context.Background())
	require.NoError(t, err)
	return s
}

func TestWithTab_RestoresFocus(t *testing.T) {
	fake := browsertest.New().SetPage("https://shop.test/p/1", `<html><body><h1>Item</h1></body></html>`)
	s := launch(t, fake)
	listing := s.Current()

	var seen string
	err := browser.WithTab(context.Background(), s, nil, func(tab browser.Tab) error {
		assert.Len(t, s.Tabs(), 2)
		assert.Same(t, tab, s.Current())
		require.NoError(t, tab.Navigate(context.Background(), "https://shop.test/p/1"))
		seen = tab.URL()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/p/1", seen)
	assert.Len(t, s.Tabs(), 1)
	assert.Same(t, listing, s.Current())
}

func TestWithTab_PanicIsContained(t *testing.T) {
	s := launch(t, browsertest.New())
	listing := s.Current()

	err := browser.WithTab(context.Background(), s, nil, func(tab browser.Tab) error {
		panic("selector engine blew up")
	})

	assert.ErrorIs(t, err, browser.ErrTabPanic)
	assert.Len(t, s.Tabs(), 1)
	assert.Same(t, listing, s.Current())
}

func TestWithTab_ErrorIsReturned(t *testing.T) {
	s := launch(t, browsertest.New())
	boom := errors.New("boom")

	err := browser.WithTab(context.Background(), s, nil, func(tab browser.Tab) error {
		return tab.Navigate(context.Background(), "https://shop.test/missing")
	})
	assert.ErrorIs(t, err, browser.ErrNavigation)

	err = browser.WithTab(context.Background(), s, nil, func(browser.Tab) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.Tabs(), 1)
}

func TestWithTab_ClosedSession(t *testing.T) {
	fake := browsertest.New()
	s := launch(t, fake)
	fake.Crash()

	called := false
	err := browser.WithTab(context.Background(), s, nil, func(browser.Tab) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	assert.False(t, called)
}

func TestEnsureSingleTab(t *testing.T) {
	s := launch(t, browsertest.New())
	listing := s.Current()

	closed, err := browser.EnsureSingleTab(s, nil)
	require.NoError(t, err)
	assert.Zero(t, closed)

	for i := 0; i < 3; i++ {
		_, err := s.OpenTab(context.Background())
		require.NoError(t, err)
	}
	require.NoError(t, s.SwitchTo(s.Tabs()[2]))

	closed, err = browser.EnsureSingleTab(s, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, closed)
	assert.Len(t, s.Tabs(), 1)
	assert.Same(t, listing, s.Current())
}
