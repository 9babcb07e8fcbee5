package client

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Result is a decoded response envelope of a remote method.
type Result map[string]any

// OK reports the value of the envelope's "ok" field. An envelope without
// the field counts as ok.
func (r Result) OK() bool {
	v, found := r["ok"]
	if !found {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// NextCursor returns response_metadata.next_cursor, or "" at end of list.
func (r Result) NextCursor() string {
	meta, _ := r["response_metadata"].(map[string]any)
	cursor, _ := meta["next_cursor"].(string)
	return cursor
}

// Warnings returns response_metadata.warnings.
func (r Result) Warnings() []string {
	meta, _ := r["response_metadata"].(map[string]any)
	raw, _ := meta["warnings"].([]any)
	warnings := make([]string, 0, len(raw))
	for _, w := range raw {
		if s, ok := w.(string); ok {
			warnings = append(warnings, s)
		}
	}
	return warnings
}

// Decode copies the result into a typed struct using `json` field tags.
func (r Result) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(r)); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
