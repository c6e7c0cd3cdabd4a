// Package canon produces the byte-stable JSON used for proof documents.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode returns the JSON encoding of v without HTML escaping and without the
// trailing newline json.Encoder appends.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

// Quote returns s as a JSON string literal.
func Quote(s string) string {
	// Encoding a string cannot fail.
	out, _ := Encode(s)
	return string(out)
}

// Compact removes insignificant whitespace from a JSON document.
func Compact(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return nil, fmt.Errorf("compact json: %w", err)
	}
	return buf.Bytes(), nil
}
