package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// timeLayout is a fixed-width UTC layout with nanosecond padding.
// RFC3339Nano trims trailing zeros, which breaks lexicographic ordering of
// TEXT columns ("...0.5Z" sorts after "...0.52Z"); the padded layout keeps
// ORDER BY on timestamp text chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders t for storage. Always UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime reads a stored timestamp back.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// formatNullableTime renders an optional timestamp; nil stores as NULL.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// marshalMetadata converts event metadata to canonical JSON TEXT so equal
// maps always produce byte-identical rows. Nil and empty both store as "{}".
func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := funnel.MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// unmarshalMetadata parses metadata TEXT back to a map. Stored rows always
// hold at least "{}", and readers get an empty map rather than nil.
func unmarshalMetadata(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}
