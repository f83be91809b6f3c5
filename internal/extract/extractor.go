package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

var (
	ErrNotFound = errors.New("no element matched")
	ErrEmpty    = errors.New("element yielded no value")
)

// Selector locates one element and names what to read from it: its text
// when Attr is empty, an attribute otherwise. Pattern optionally narrows the
// value to the first capture group (or whole match).
type Selector struct {
	CSS     string `yaml:"css"`
	Attr    string `yaml:"attr,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`

	re *regexp.Regexp
}

func (s *Selector) Compile() error {
	if strings.TrimSpace(s.CSS) == "" {
		return errors.New("selector has no css")
	}
	if s.Pattern == "" || s.re != nil {
		return nil
	}
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return fmt.Errorf("selector %q: bad pattern: %w", s.CSS, err)
	}
	s.re = re
	return nil
}

func (s Selector) String() string {
	if s.Attr != "" {
		return s.CSS + "@" + s.Attr
	}
	return s.CSS
}

func (s Selector) read(n Node) (string, error) {
	var (
		v   string
		err error
	)
	if s.Attr == "" {
		v, err = n.Text()
		v = CleanText(v)
	} else {
		v, _, err = n.Attr(s.Attr)
		v = strings.TrimSpace(v)
	}
	if err != nil {
		return "", err
	}
	return s.match(v), nil
}

func (s Selector) match(v string) string {
	re := s.re
	if re == nil && s.Pattern != "" {
		re, _ = regexp.Compile(s.Pattern)
	}
	if re == nil || v == "" {
		return v
	}
	m := re.FindStringSubmatch(v)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return strings.TrimSpace(m[1])
	default:
		return strings.TrimSpace(m[0])
	}
}

// Chain is an ordered list of alternative selectors for one field.
type Chain []Selector

func (c Chain) Compile() error {
	for i := range c {
		if err := c[i].Compile(); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) Empty() bool { return len(c) == 0 }

// CSS builds a text chain from bare CSS selectors.
func CSS(selectors ...string) Chain {
	c := make(Chain, 0, len(selectors))
	for _, s := range selectors {
		c = append(c, Selector{CSS: s})
	}
	return c
}

// NormalizeFunc turns a raw non-empty value into the stored one.
type NormalizeFunc func(string) (string, error)

// Extractor resolves selector chains. Each selector attempt against a live
// node is retried up to attempts times before the chain falls through to the
// next selector.
type Extractor struct {
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

func New(attempts int, delay time.Duration, logger *slog.Logger) *Extractor {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		attempts: attempts,
		delay:    delay,
		logger:   logger.With("component", "extractor"),
	}
}

// Extract returns the normalized value of the first selector that yields a
// non-empty value, or models.Unknown. It never returns an error: a failed
// field must not stop its siblings.
func (x *Extractor) Extract(ctx context.Context, root Node, chain Chain, normalize NormalizeFunc) string {
	if root == nil {
		return models.Unknown
	}
	for _, sel := range chain {
		raw, err := x.lookup(ctx, root, sel)
		if err != nil || raw == "" {
			continue
		}
		v, err := apply(raw, normalize)
		if err != nil {
			x.logger.Debug("normalize failed", "selector", sel.String(), "error", err)
			return models.Unknown
		}
		return models.Or(v, models.Unknown)
	}
	return models.Unknown
}

// ExtractAll returns the values of every element matched by the first
// selector that yields at least one value.
func (x *Extractor) ExtractAll(ctx context.Context, root Node, chain Chain) []string {
	if root == nil {
		return nil
	}
	for _, sel := range chain {
		nodes, err := x.find(ctx, root, sel)
		if err != nil {
			continue
		}
		var values []string
		for _, n := range nodes {
			if v, err := safeRead(sel, n); err == nil && v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			return values
		}
	}
	return nil
}

func (x *Extractor) lookup(ctx context.Context, root Node, sel Selector) (string, error) {
	read := func() (string, error) {
		nodes, err := safeFind(root, sel.CSS)
		if err != nil {
			return "", err
		}
		if len(nodes) == 0 {
			return "", ErrNotFound
		}
		var lastErr error
		for _, n := range nodes {
			v, err := safeRead(sel, n)
			if err == nil && v != "" {
				return v, nil
			}
			lastErr = err
		}
		return "", lastErr
	}
	if !root.Live() {
		return read()
	}
	return Retry(ctx, x.attempts, x.delay, read)
}

func (x *Extractor) find(ctx context.Context, root Node, sel Selector) ([]Node, error) {
	var nodes []Node
	find := func() (string, error) {
		found, err := safeFind(root, sel.CSS)
		if err != nil {
			return "", err
		}
		if len(found) == 0 {
			return "", ErrNotFound
		}
		nodes = found
		return "found", nil
	}
	var err error
	if root.Live() {
		_, err = Retry(ctx, x.attempts, x.delay, find)
	} else {
		_, err = find()
	}
	return nodes, err
}

// Retry calls fn until it returns a non-empty value, at most attempts
// times, sleeping delay between calls.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() (string, error)) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil && v != "" {
			return v, nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = ErrEmpty
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

func apply(raw string, normalize NormalizeFunc) (v string, err error) {
	if normalize == nil {
		return raw, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("normalize panicked: %v", r)
		}
	}()
	return normalize(raw)
}

func safeFind(n Node, css string) (nodes []Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("find %q panicked: %v", css, r)
		}
	}()
	return n.Find(css)
}

func safeRead(sel Selector, n Node) (v string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read %q panicked: %v", sel.CSS, r)
		}
	}()
	return sel.read(n)
}
