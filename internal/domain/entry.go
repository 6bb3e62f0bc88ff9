package domain

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// LogEntry is one record read from the listing event log.
type LogEntry struct {
	ID     string
	Fields map[string]Field
}

// Field holds a single log value. Values are stored as strings by the
// producer; Decoded reports whether Raw parsed as JSON.
type Field struct {
	Raw     string
	Value   any
	Decoded bool
}

// DecodeField tries to read raw as JSON and falls back to the raw string.
// Numbers are kept as json.Number so identifiers wider than a float64
// mantissa survive re-encoding.
func DecodeField(raw string) Field {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Field{Raw: raw}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Field{Raw: raw}
	}
	return Field{Raw: raw, Value: v, Decoded: true}
}

// Any returns the decoded value, or the raw string when decoding failed.
func (f Field) Any() any {
	if f.Decoded {
		return f.Value
	}
	return f.Raw
}

func (f Field) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Any())
}

// String returns the value as text. JSON strings are unquoted, anything
// else falls back to the raw form.
func (f Field) String() (string, bool) {
	if !f.Decoded {
		return f.Raw, true
	}
	s, ok := f.Value.(string)
	return s, ok
}

// Number returns the value as a float. Quoted numbers are accepted since
// scrapers are not consistent about it.
func (f Field) Number() (float64, bool) {
	if !f.Decoded {
		return 0, false
	}
	switch v := f.Value.(type) {
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	case float64:
		return v, true
	case string:
		var n float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Strings returns the value as a list of strings, skipping non-string items.
func (f Field) Strings() ([]string, bool) {
	if !f.Decoded {
		return nil, false
	}
	items, ok := f.Value.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// FlatEvent renders the entry fields as the flat JSON object sent to clients.
func (e LogEntry) FlatEvent() ([]byte, error) {
	return json.Marshal(e.Fields)
}
