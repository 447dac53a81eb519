package store

import (
	"sort"
	"testing"
	"time"
)

func TestFormatTime_FixedWidth(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 12, 0, 0, 500000000, time.UTC),
		time.Date(2026, 3, 1, 12, 0, 0, 1, time.UTC),
	}

	width := len(formatTime(times[0]))
	for _, at := range times {
		s := formatTime(at)
		if len(s) != width {
			t.Errorf("formatTime(%v) width = %d, want %d (%q)", at, len(s), width, s)
		}
		if s[len(s)-1] != 'Z' {
			t.Errorf("formatTime(%v) = %q, want trailing Z", at, s)
		}
	}
}

func TestFormatTime_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2026, 3, 1, 17, 0, 0, 0, loc)
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if formatTime(local) != formatTime(utc) {
		t.Errorf("formatTime(local) = %q, want %q", formatTime(local), formatTime(utc))
	}
}

func TestFormatTime_LexicographicOrderMatchesChronological(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Includes the 0.5 vs 0.52 case that breaks RFC3339Nano text ordering.
	times := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(520 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Minute),
		base.Add(24 * time.Hour),
	}

	formatted := make([]string, len(times))
	for i, at := range times {
		formatted[i] = formatTime(at)
	}

	if !sort.StringsAreSorted(formatted) {
		t.Errorf("formatted timestamps not in lexicographic order: %v", formatted)
	}
}

func TestParseTime_RoundTrip(t *testing.T) {
	original := time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC)

	parsed, err := parseTime(formatTime(original))
	if err != nil {
		t.Fatalf("parseTime() failed: %v", err)
	}
	if !parsed.Equal(original) {
		t.Errorf("round trip = %v, want %v", parsed, original)
	}
}

func TestParseTime_RejectsGarbage(t *testing.T) {
	if _, err := parseTime("not-a-timestamp"); err == nil {
		t.Error("expected error for garbage input, got nil")
	}
}

func TestFormatNullableTime(t *testing.T) {
	if got := formatNullableTime(nil); got != nil {
		t.Errorf("formatNullableTime(nil) = %v, want nil", got)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := formatNullableTime(&at)
	s, ok := got.(string)
	if !ok {
		t.Fatalf("formatNullableTime() type = %T, want string", got)
	}
	if s != formatTime(at) {
		t.Errorf("formatNullableTime() = %q, want %q", s, formatTime(at))
	}
}

func TestMarshalMetadata_EmptyAndNil(t *testing.T) {
	for _, m := range []map[string]string{nil, {}} {
		got, err := marshalMetadata(m)
		if err != nil {
			t.Fatalf("marshalMetadata(%v) failed: %v", m, err)
		}
		if got != "{}" {
			t.Errorf("marshalMetadata(%v) = %q, want %q", m, got, "{}")
		}
	}
}

func TestMarshalMetadata_Deterministic(t *testing.T) {
	a := map[string]string{"channel": "email", "campaign": "q1", "region": "emea"}
	b := map[string]string{"region": "emea", "campaign": "q1", "channel": "email"}

	first, err := marshalMetadata(a)
	if err != nil {
		t.Fatalf("marshalMetadata(a) failed: %v", err)
	}
	second, err := marshalMetadata(b)
	if err != nil {
		t.Fatalf("marshalMetadata(b) failed: %v", err)
	}
	if first != second {
		t.Errorf("equal maps marshal differently: %q vs %q", first, second)
	}
}

func TestUnmarshalMetadata_EmptyVariants(t *testing.T) {
	for _, raw := range []string{"", "{}"} {
		m, err := unmarshalMetadata(raw)
		if err != nil {
			t.Fatalf("unmarshalMetadata(%q) failed: %v", raw, err)
		}
		if m == nil {
			t.Errorf("unmarshalMetadata(%q) = nil, want empty map", raw)
		}
		if len(m) != 0 {
			t.Errorf("unmarshalMetadata(%q) len = %d, want 0", raw, len(m))
		}
	}
}

func TestUnmarshalMetadata_RoundTrip(t *testing.T) {
	original := map[string]string{"source": "webinar", "score": "12"}

	raw, err := marshalMetadata(original)
	if err != nil {
		t.Fatalf("marshalMetadata() failed: %v", err)
	}
	got, err := unmarshalMetadata(raw)
	if err != nil {
		t.Fatalf("unmarshalMetadata() failed: %v", err)
	}
	if len(got) != 2 || got["source"] != "webinar" || got["score"] != "12" {
		t.Errorf("round trip = %v, want %v", got, original)
	}
}

func TestUnmarshalMetadata_RejectsGarbage(t *testing.T) {
	if _, err := unmarshalMetadata("{not json"); err == nil {
		t.Error("expected error for malformed metadata, got nil")
	}
}
