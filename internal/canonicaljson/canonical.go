// Package canonicaljson produces the canonical JSON form used for signing
// and verifying key objects: compact output, lexicographically sorted keys,
// with the signatures and unsigned fields stripped.
package canonicaljson

import (
	"encoding/json"
	"fmt"
)

// Canonicalize returns the canonical JSON encoding of v. It marshals to
// JSON, round-trips through a generic structure (Go's encoder emits map
// keys sorted), and re-marshals compactly.
func Canonicalize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("canonicaljson: unmarshal: %w", err)
	}
	out, err := json.Marshal(stripNulls(generic))
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: re-marshal: %w", err)
	}
	return out, nil
}

// SigningPayload returns the canonical form of v with the top-level
// "signatures" and "unsigned" members removed. This is the exact byte
// string that signatures cover.
func SigningPayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("canonicaljson: unmarshal: %w", err)
	}
	delete(m, "signatures")
	delete(m, "unsigned")
	out, err := json.Marshal(stripNulls(m))
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: re-marshal: %w", err)
	}
	return out, nil
}

// stripNulls recursively removes null members from maps.
func stripNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if item != nil {
				out[k] = stripNulls(item)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = stripNulls(item)
		}
		return out
	default:
		return v
	}
}
