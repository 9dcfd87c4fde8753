// Package metadoc reads fields out of catalog metadata documents, both in-process
// and as SQL expressions over the jsonb column, using the same offsets.
package metadoc

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Document is a decoded dataset metadata document.
type Document map[string]any

// Parse decodes a raw JSON metadata document. Numbers are kept as json.Number.
func Parse(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode metadata document: %w", err)
	}
	return doc, nil
}

// Get walks the document along offset. Missing keys and JSON nulls return false.
func (d Document) Get(offset []string) (any, bool) {
	var cur any = map[string]any(d)
	for _, key := range offset {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// String returns the field as text, the way the #>> operator renders it.
func (d Document) String(offset []string) (string, bool) {
	v, ok := d.Get(offset)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Float returns the field as a float64. Numeric strings are accepted, matching a
// ::double precision cast of the text value.
func (d Document) Float(offset []string) (float64, bool) {
	s, ok := d.String(offset)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Timestamp returns the field parsed like agdc.common_timestamp.
func (d Document) Timestamp(offset []string) (time.Time, bool) {
	s, ok := d.String(offset)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseCommonTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Value returns the raw decoded value (json.Number numbers converted to int64 or float64).
func (d Document) Value(offset []string) (any, bool) {
	v, ok := d.Get(offset)
	if !ok {
		return nil, false
	}
	return normalise(v), true
}

func normalise(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalise(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalise(val)
		}
		return out
	}
	return v
}

// LowerFloat is the lowest of the values found at the alternative offsets.
func (d Document) LowerFloat(offsets [][]string) (float64, bool) {
	return d.boundFloat(offsets, math.Min)
}

// UpperFloat is the highest of the values found at the alternative offsets.
func (d Document) UpperFloat(offsets [][]string) (float64, bool) {
	return d.boundFloat(offsets, math.Max)
}

func (d Document) boundFloat(offsets [][]string, pick func(a, b float64) float64) (float64, bool) {
	var result float64
	found := false
	for _, off := range offsets {
		v, ok := d.Float(off)
		if !ok {
			continue
		}
		if !found {
			result, found = v, true
			continue
		}
		result = pick(result, v)
	}
	return result, found
}

// LowerTimestamp is the earliest timestamp found at the alternative offsets.
func (d Document) LowerTimestamp(offsets [][]string) (time.Time, bool) {
	return d.boundTimestamp(offsets, func(a, b time.Time) bool { return b.Before(a) })
}

// UpperTimestamp is the latest timestamp found at the alternative offsets.
func (d Document) UpperTimestamp(offsets [][]string) (time.Time, bool) {
	return d.boundTimestamp(offsets, func(a, b time.Time) bool { return b.After(a) })
}

func (d Document) boundTimestamp(offsets [][]string, better func(a, b time.Time) bool) (time.Time, bool) {
	var result time.Time
	found := false
	for _, off := range offsets {
		v, ok := d.Timestamp(off)
		if !ok {
			continue
		}
		if !found || better(result, v) {
			result, found = v, true
		}
	}
	return result, found
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02",
}

// ParseCommonTimestamp parses a catalog timestamp string. Like agdc.common_timestamp
// (text::timestamp at time zone 'utc') any zone offset is discarded and the wall
// clock is read as UTC, at microsecond precision.
func ParseCommonTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
		return wall.Truncate(time.Microsecond), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
