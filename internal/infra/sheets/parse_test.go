package sheets

import (
	"testing"
	"time"
)

func TestParseStamp_AcceptedLayouts(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-01 14:30:00", time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"2026-03-01T14:30:00Z", time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"2026-03-01 14:30", time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"01.03.2026 14:30", time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)},
		{"  2026-03-01 14:30:00  ", time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := ParseStamp(tc.in)
		if !ok {
			t.Errorf("ParseStamp(%q) not recognized", tc.in)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseStamp(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseStamp_Unrecognized(t *testing.T) {
	for _, in := range []string{"", "yesterday", "14:30", "March 1st"} {
		if _, ok := ParseStamp(in); ok {
			t.Errorf("ParseStamp(%q) = ok, want unrecognized", in)
		}
	}
}

func TestParsePoints(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"95", 95, false},
		{"95.0", 95, false},
		{" 95 ", 95, false},
		{"1,250", 1250, false},
		{"", 0, false},
		{"-10", -10, false},
		{"ninety", 0, true},
	}
	for _, tc := range cases {
		got, err := parsePoints(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parsePoints(%q) = %d, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePoints(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parsePoints(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseRow_SkipsUnusable(t *testing.T) {
	if _, ok := parseRow([]any{"", "No ID", "", "", "50", ""}); ok {
		t.Error("row without user id should be skipped")
	}
	if _, ok := parseRow([]any{"u1", "Garbled", "", "", "fifty", ""}); ok {
		t.Error("row with unreadable points should be skipped")
	}
	row, ok := parseRow([]any{"u1", "Aziza Karimova", "+998901234567", "@aziza", "120", "2026-03-01 10:00:00"})
	if !ok {
		t.Fatal("well-formed row rejected")
	}
	if row.Points != 120 || row.FullName != "Aziza Karimova" {
		t.Errorf("parsed row = %+v", row)
	}
}

func TestParseRow_ShortRow(t *testing.T) {
	// A row with only id and name: missing cells read as empty, points 0.
	row, ok := parseRow([]any{"u2", "Bobur"})
	if !ok {
		t.Fatal("short row rejected")
	}
	if row.Points != 0 || row.UpdatedAt != "" {
		t.Errorf("short row = %+v, want zero points and empty stamp", row)
	}
}

func TestRangeRef_QuotesTabNames(t *testing.T) {
	if got := rangeRef("Group A", "A2:F"); got != "'Group A'!A2:F" {
		t.Errorf("rangeRef = %q", got)
	}
	if got := rangeRef("Ann's Class", "A:F"); got != "'Ann''s Class'!A:F" {
		t.Errorf("rangeRef with quote = %q", got)
	}
}
