package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseScheduleTime(t *testing.T) {
	want := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"minutes", "2026-03-02 09:30", want},
		{"seconds", "2026-03-02 09:30:15", want.Add(15 * time.Second)},
		{"utc suffix", "2026-03-02 09:30 UTC", want},
		{"utc suffix with seconds", "2026-03-02 09:30:00 UTC", want},
		{"padded", "  2026-03-02 09:30  ", want},
		{"rfc3339 zulu", "2026-03-02T09:30:00Z", want},
		{"rfc3339 positive offset", "2026-03-02T11:30:00+02:00", want},
		{"rfc3339 negative offset", "2026-03-02T04:30:00-05:00", want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.input)
			if err != nil {
				t.Fatalf("ParseScheduleTime(%q) failed: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.input, got.UTC(), tt.want)
			}
		})
	}
}

func TestParseScheduleTimeNaiveIsUTC(t *testing.T) {
	got, err := ParseScheduleTime("2026-03-02 09:30")
	if err != nil {
		t.Fatal(err)
	}
	if got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}
}

func TestParseScheduleTimeRejects(t *testing.T) {
	for _, input := range []string{
		"",
		"UTC",
		"09:30",
		"2026-03-02",
		"2026/03/02 09:30",
		"02-03-2026 09:30",
		"2026-03-02 25:00",
		"2026-02-30 09:30",
		"2026-03-02 09:30 CET",
		"tomorrow",
	} {
		if _, err := ParseScheduleTime(input); err == nil {
			t.Errorf("ParseScheduleTime(%q) should fail", input)
		}
	}
}

func TestParseScheduleTimes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single", "2026-03-02 09:30", []string{"2026-03-02T09:30:00Z"}},
		{"list", "2026-03-02 09:30,2026-03-02 12:00", []string{"2026-03-02T09:30:00Z", "2026-03-02T12:00:00Z"}},
		{"mixed formats", "2026-03-02T10:30:00+01:00, 2026-03-02 12:00 UTC", []string{"2026-03-02T09:30:00Z", "2026-03-02T12:00:00Z"}},
		{"empty parts skipped", ",2026-03-02 09:30,, ,2026-03-02 12:00,", []string{"2026-03-02T09:30:00Z", "2026-03-02T12:00:00Z"}},
		{"only separators", " , ,", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScheduleTimes(tt.input)
			if err != nil {
				t.Fatalf("ParseScheduleTimes(%q) failed: %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d waves, want %d", len(got), len(tt.want))
			}
			for i, w := range tt.want {
				if s := got[i].UTC().Format(time.RFC3339); s != w {
					t.Errorf("wave %d = %s, want %s", i+1, s, w)
				}
			}
		})
	}
}

func TestParseScheduleTimesReportsWave(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"first", "soon,2026-03-02 12:00", "wave 1 (soon)"},
		{"second", "2026-03-02 09:30, 12:00", "wave 2 (12:00)"},
		{"empty parts not counted", ",,2026-03-02 09:30,,noon", "wave 2 (noon)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScheduleTimes(tt.input)
			if err == nil {
				t.Fatalf("ParseScheduleTimes(%q) = %v, want error", tt.input, got)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if got != nil {
				t.Errorf("partial result %v returned with error", got)
			}
		})
	}
}
