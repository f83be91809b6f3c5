package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Description is either plain text or a structured block of feature
// bullets and technical specs. Sites disagree on the shape, so both are
// kept instead of flattening the richer one.
type Description struct {
	Text       string
	Structured *StructuredDescription
}

type StructuredDescription struct {
	Features []string          `json:"features"`
	Specs    map[string]string `json:"technical_specs"`
}

func PlainText(text string) Description {
	return Description{Text: text}
}

func Structured(features []string, specs map[string]string) Description {
	if features == nil {
		features = []string{}
	}
	if specs == nil {
		specs = map[string]string{}
	}
	return Description{Structured: &StructuredDescription{Features: features, Specs: specs}}
}

func (d Description) IsStructured() bool {
	return d.Structured != nil
}

// IsKnown is false for the all-sentinel description.
func (d Description) IsKnown() bool {
	if d.Structured != nil {
		return len(d.Structured.Features) > 0 || len(d.Structured.Specs) > 0
	}
	return IsKnown(d.Text)
}

func (d Description) clone() Description {
	if d.Structured == nil {
		return d
	}
	return Structured(append([]string{}, d.Structured.Features...), maps.Clone(d.Structured.Specs))
}

func (d Description) MarshalJSON() ([]byte, error) {
	if d.Structured != nil {
		return json.Marshal(d.Structured)
	}
	text := d.Text
	if text == "" {
		text = Unknown
	}
	return json.Marshal(text)
}

func (d *Description) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = PlainText(Unknown)
		return nil
	}

	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*d = PlainText(text)
		return nil
	case '{':
		var s StructuredDescription
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Structured(s.Features, s.Specs)
		return nil
	default:
		return fmt.Errorf("description: unexpected JSON %q", string(data[:1]))
	}
}
