// Package canonjson produces deterministic JSON encodings for hashing.
//
// encoding/json already sorts map keys, so the canonical form of a decoded
// value tree is its plain marshal. The work here is normalizing raw JSON
// text (whitespace, key order, number literals) so that re-ingested payloads
// fingerprint identically.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes v compactly with sorted object keys and without HTML
// escaping, so hashes do not depend on the caller's escape settings.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	// Encoder appends a newline; the canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Canonical re-encodes raw JSON text into canonical form. Numbers keep
// their literal spelling via json.Number so decode/encode round-trips are
// stable.
func Canonical(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	return Marshal(v)
}

// String is Marshal for hashing paths where a failed encode should
// contribute an empty string rather than an error.
func String(v any) string {
	if v == nil {
		return ""
	}
	b, err := Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
