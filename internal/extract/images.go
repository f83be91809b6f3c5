package extract

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const DefaultImageLimit = 5

var (
	imageAttrs  = []string{"src", "data-src", "data-lazy-src", "data-old-hires", "data-zoom-src", "data-original"}
	srcsetAttrs = []string{"srcset", "data-srcset"}

	DefaultPlaceholders = []string{"placeholder", "default", ".svg", "noimage", "no-image", "no_image", "blank.gif", "spacer", "transparent-pixel", "grey-pixel", "data:image"}
)

// Rewrite upgrades an image URL, e.g. an Amazon thumbnail suffix to the
// 1500px variant.
type Rewrite struct {
	Pattern *regexp.Regexp
	Replace string
}

type ImageRules struct {
	Placeholders []string
	// Resolution captures a pixel hint embedded in the URL (eBay "s-l1600").
	Resolution *regexp.Regexp
	Rewrites   []Rewrite
	Limit      int
}

// ImageSources reads every image-bearing attribute of n in a stable order.
func ImageSources(n Node) []string {
	var out []string
	for _, attr := range imageAttrs {
		if v, ok, err := n.Attr(attr); err == nil && ok && strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	for _, attr := range srcsetAttrs {
		if v, ok, err := n.Attr(attr); err == nil && ok {
			out = append(out, SrcsetURLs(v)...)
		}
	}
	return out
}

// SrcsetURLs splits "a.jpg 1x, b.jpg 2x" into its URLs.
func SrcsetURLs(srcset string) []string {
	var out []string
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

// CollectImages filters placeholders, absolutizes, rewrites and dedupes the
// candidates, orders them by resolution hint when one is present and caps
// the result.
func CollectImages(candidates []string, base string, rules ImageRules) []string {
	placeholders := rules.Placeholders
	if placeholders == nil {
		placeholders = DefaultPlaceholders
	}
	limit := rules.Limit
	if limit <= 0 {
		limit = DefaultImageLimit
	}

	seen := make(map[string]bool)
	images := make([]string, 0, len(candidates))
	for _, c := range candidates {
		u, ok := absoluteImageURL(c, base)
		if !ok || isPlaceholder(u, placeholders) {
			continue
		}
		for _, rw := range rules.Rewrites {
			if rw.Pattern != nil {
				u = rw.Pattern.ReplaceAllString(u, rw.Replace)
			}
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		images = append(images, u)
	}

	if rules.Resolution != nil {
		sort.SliceStable(images, func(i, j int) bool {
			return resolutionHint(rules.Resolution, images[i]) > resolutionHint(rules.Resolution, images[j])
		})
	}
	if len(images) > limit {
		images = images[:limit]
	}
	return images
}

func absoluteImageURL(raw, base string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw, true
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, true
	}
	if strings.HasPrefix(raw, "data:") {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return b.ResolveReference(ref).String(), true
}

func isPlaceholder(u string, markers []string) bool {
	lower := strings.ToLower(u)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func resolutionHint(re *regexp.Regexp, u string) int {
	m := re.FindStringSubmatch(u)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
