package main

import (
	"fmt"
	"strings"
	"time"
)

// ParseScheduleTime parses the times accepted by -at. Times without a zone are
// UTC.
//   - "2025-01-15 16:00"
//   - "2025-01-15 16:00:00"
//   - "2025-01-15 16:00 UTC"
//   - "2025-01-15T16:00:00Z" (RFC3339, any offset)
func ParseScheduleTime(timeStr string) (time.Time, error) {
	timeStr = strings.TrimSpace(timeStr)
	timeStr = strings.TrimSuffix(timeStr, "UTC")
	timeStr = strings.TrimSpace(timeStr)

	if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
		return t, nil
	}

	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, timeStr, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time format '%s'. Use format: YYYY-MM-DD HH:MM (e.g., 2025-01-15 16:00). Time is assumed to be UTC", timeStr)
}

// ParseScheduleTimes parses a comma separated list of waves. Empty parts are
// skipped and do not count towards the wave number in errors.
func ParseScheduleTimes(list string) ([]time.Time, error) {
	var times []time.Time
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseScheduleTime(part)
		if err != nil {
			return nil, fmt.Errorf("invalid wave %d (%s): %w", len(times)+1, strings.TrimSpace(part), err)
		}
		times = append(times, t)
	}
	return times, nil
}
