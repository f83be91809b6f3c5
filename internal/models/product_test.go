package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProductRecord_AllSentinels(t *testing.T) {
	r := NewProductRecord("eBay")

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	for _, key := range []string{
		"url", "title", "price", "description", "min_order", "seller", "origin",
		"feedback", "media", "specifications", "dimensions", "discount", "brand", "source_site",
	} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, Unknown, fields["title"])
	assert.Equal(t, Unknown, fields["description"])
	assert.Equal(t, "eBay", fields["source_site"])
	assert.Equal(t, []any{}, fields["media"].(map[string]any)["images"])
}

func TestProductRecord_FieldOrder(t *testing.T) {
	data, err := json.Marshal(NewProductRecord("Amazon"))
	require.NoError(t, err)

	s := string(data)
	order := []string{`"url"`, `"title"`, `"price"`, `"description"`, `"min_order"`, `"seller"`,
		`"origin"`, `"feedback"`, `"media"`, `"specifications"`, `"dimensions"`, `"discount"`, `"brand"`, `"source_site"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		require.Greater(t, idx, last, "key %s out of order", key)
		last = idx
	}
}

func TestProductRecord_Clone(t *testing.T) {
	r := NewProductRecord("Amazon")
	r.Media.Images = append(r.Media.Images, "https://img/1.jpg")
	r.Specifications["Brand"] = "Acme"
	r.Description = Structured([]string{"waterproof"}, map[string]string{"Weight": "1kg"})

	c := r.Clone()
	c.Media.Images[0] = "changed"
	c.Specifications["Brand"] = "Other"
	c.Description.Structured.Features[0] = "changed"

	assert.Equal(t, "https://img/1.jpg", r.Media.Images[0])
	assert.Equal(t, "Acme", r.Specifications["Brand"])
	assert.Equal(t, "waterproof", r.Description.Structured.Features[0])
}

func TestProductRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"absolute", "https://www.ebay.com/itm/1", false},
		{"unknown", Unknown, true},
		{"empty", "", true},
		{"relative", "/itm/1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewProductRecord("eBay")
			r.URL = tt.url
			if tt.wantErr {
				assert.NotEmpty(t, r.Validate())
			} else {
				assert.Empty(t, r.Validate())
			}
		})
	}
}

func TestDescription_JSON(t *testing.T) {
	tests := []struct {
		name string
		desc Description
		want string
	}{
		{"plain", PlainText("Soft cotton shirt"), `"Soft cotton shirt"`},
		{"empty plain", Description{}, `"N/A"`},
		{"structured", Structured([]string{"A"}, map[string]string{"k": "v"}), `{"features":["A"],"technical_specs":{"k":"v"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.desc)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var back Description
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.desc.IsStructured(), back.IsStructured())
		})
	}
}

func TestNewJobResult(t *testing.T) {
	ok := NewJobResult("shoes", 2, nil, "/tmp/out.json", nil)
	assert.True(t, ok.Success)
	assert.Equal(t, Unknown, ok.Error)
	assert.Equal(t, 0, ok.TotalProducts)
	assert.NotNil(t, ok.Records)

	failed := NewJobResult("shoes", 2, []ProductRecord{*NewProductRecord("eBay")}, "", errors.New("boom"))
	assert.False(t, failed.Success)
	assert.Equal(t, "boom", failed.Error)
	assert.Equal(t, Unknown, failed.OutputPath)
	assert.Equal(t, 1, failed.TotalProducts)
}
