package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is a DOM handle the extractor can query. Snapshot nodes wrap a
// parsed goquery tree and never fail; live nodes wrap a browser element
// and may race a page that is still rendering.
type Node interface {
	Find(selector string) ([]Node, error)
	Text() (string, error)
	Attr(name string) (string, bool, error)
	// Live reports whether lookups against this node may succeed on retry.
	Live() bool
}

type snapshot struct {
	sel *goquery.Selection
}

// Parse builds a snapshot from page HTML.
func Parse(html string) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return snapshot{sel: doc.Selection}, nil
}

// MustParse is Parse for fixtures.
func MustParse(html string) Node {
	n, err := Parse(html)
	if err != nil {
		panic(err)
	}
	return n
}

// FromSelection wraps an existing goquery selection.
func FromSelection(sel *goquery.Selection) Node {
	return snapshot{sel: sel}
}

func (s snapshot) Find(selector string) ([]Node, error) {
	found := s.sel.Find(selector)
	nodes := make([]Node, 0, found.Length())
	found.Each(func(_ int, el *goquery.Selection) {
		nodes = append(nodes, snapshot{sel: el})
	})
	return nodes, nil
}

func (s snapshot) Text() (string, error) {
	return s.sel.Text(), nil
}

func (s snapshot) Attr(name string) (string, bool, error) {
	v, ok := s.sel.Attr(name)
	return v, ok, nil
}

func (s snapshot) Live() bool { return false }

// HTML returns the outer HTML of a snapshot node, or "" for live nodes.
func HTML(n Node) string {
	s, ok := n.(snapshot)
	if !ok {
		return ""
	}
	html, err := goquery.OuterHtml(s.sel)
	if err != nil {
		return ""
	}
	return html
}

// First returns the first match of the first selector that matches.
func First(n Node, selectors ...string) (Node, bool) {
	for _, sel := range selectors {
		found, err := n.Find(sel)
		if err == nil && len(found) > 0 {
			return found[0], true
		}
	}
	return nil, false
}

// FindAny returns every match of the first selector with at least one match.
func FindAny(n Node, selectors ...string) ([]Node, string) {
	for _, sel := range selectors {
		found, err := n.Find(sel)
		if err == nil && len(found) > 0 {
			return found, sel
		}
	}
	return nil, ""
}
