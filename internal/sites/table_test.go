package sites

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_LoadsAllSites(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	assert.Equal(t, []string{"alibaba", "amazon", "dhgate", "ebay", "flipkart", "indiamart", "madeinchina"}, reg.Keys())

	for _, key := range reg.Keys() {
		t.Run(key, func(t *testing.T) {
			table, err := reg.Get(key)
			require.NoError(t, err)
			assert.NotEmpty(t, table.Name)
			assert.NotEmpty(t, table.Listing.Cards)
			assert.False(t, table.Listing.Fields.URL.Empty())
		})
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	_, err = reg.Get("etsy")
	assert.ErrorIs(t, err, ErrUnknownSite)

	table, err := reg.Get(" eBay ")
	require.NoError(t, err)
	assert.Equal(t, "eBay", table.Name)
}

func TestBuildSearchURL(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	tests := []struct {
		site    string
		keyword string
		page    int
		want    string
	}{
		{"amazon", "running shoes", 2, "https://www.amazon.in/s?k=running+shoes&page=2"},
		{"ebay", "watch", 1, "https://www.ebay.com/sch/i.html?_nkw=watch&_sacat=0&_from=R40&_pgn=1"},
		{"flipkart", "phone case", 3, "https://www.flipkart.com/search?q=phone+case&page=3"},
		{"madeinchina", "led light", 1, "https://www.made-in-china.com/multi-search/led+light/F1/1.html"},
		{"alibaba", "perfume", 4, "https://www.alibaba.com/trade/search?SearchText=perfume&page=4&IndexArea=product_en&viewtype=G"},
	}

	for _, tt := range tests {
		t.Run(tt.site, func(t *testing.T) {
			table, err := reg.Get(tt.site)
			require.NoError(t, err)
			assert.Equal(t, tt.want, table.BuildSearchURL(tt.keyword, tt.page))
		})
	}
}

func TestAcceptsURL(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	ebay, err := reg.Get("ebay")
	require.NoError(t, err)
	assert.True(t, ebay.AcceptsURL("https://www.ebay.com/itm/1234"))
	assert.False(t, ebay.AcceptsURL("https://www.ebay.com/sch/i.html"))

	amazon, err := reg.Get("amazon")
	require.NoError(t, err)
	assert.True(t, amazon.AcceptsURL("https://www.amazon.in/Shoe/dp/B0123"))
	assert.False(t, amazon.AcceptsURL("https://www.amazon.in/sspa/click"))
}

func TestTableHelpers(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	amazon, err := reg.Get("amazon")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://m.media-amazon.com/images/I/1.jpg"},
		amazon.ScriptImages(`{"hiRes":"https://m.media-amazon.com/images/I/1.jpg","thumb":"x"}`))
	assert.NotNil(t, amazon.DimensionRegexp())
	assert.Len(t, amazon.ImageRules().Rewrites, 1)
	assert.True(t, amazon.Detail.Enabled())

	indiamart, err := reg.Get("indiamart")
	require.NoError(t, err)
	assert.False(t, indiamart.Detail.Enabled())
	assert.Nil(t, indiamart.ScriptImages("anything"))

	ebay, err := reg.Get("ebay")
	require.NoError(t, err)
	assert.True(t, ebay.Detail.IsLive("seller"))
	assert.False(t, ebay.Detail.IsLive("title"))
	assert.Equal(t, "1 unit", ebay.Defaults.MinOrder)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing key", `name: X`},
		{"relative base", "key: x\nbase_url: /x\nsearch_url: 'https://x/{keyword}/{page}'"},
		{"missing placeholders", "key: x\nbase_url: https://x\nsearch_url: https://x/s"},
		{"no cards", "key: x\nbase_url: https://x\nsearch_url: 'https://x/{keyword}/{page}'\nlisting: {fields: {url: [{css: a, attr: href}]}}"},
		{"bad pattern", "key: x\nbase_url: https://x\nsearch_url: 'https://x/{keyword}/{page}'\nurl_pattern: '('\nlisting: {cards: [div], fields: {url: [{css: a, attr: href}]}}"},
		{"bad spec rule", "key: x\nbase_url: https://x\nsearch_url: 'https://x/{keyword}/{page}'\nlisting: {cards: [div], fields: {url: [{css: a, attr: href}]}}\ndetail: {specs: [{rows: tr}]}"},
		{"not yaml", "key: [x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestRegistry_Override(t *testing.T) {
	dir := t.TempDir()
	custom := "key: ebay\nname: eBay UK\nbase_url: https://www.ebay.co.uk\nsearch_url: 'https://www.ebay.co.uk/sch/i.html?_nkw={keyword}&_pgn={page}'\nlisting: {cards: [li.s-item], fields: {url: [{css: a, attr: href}]}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ebay.yaml"), []byte(custom), 0o644))

	reg, err := Builtin()
	require.NoError(t, err)
	require.NoError(t, reg.Override(dir))

	table, err := reg.Get("ebay")
	require.NoError(t, err)
	assert.Equal(t, "eBay UK", table.Name)
	assert.Len(t, reg.Keys(), 7)
}
