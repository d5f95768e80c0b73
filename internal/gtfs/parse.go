package gtfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseOffset parses a GTFS HH:MM:SS arrival time into a duration since
// service-day start. Hours may exceed 24 for trips running past midnight.
// ok is false for empty or malformed input.
func ParseOffset(s string) (d time.Duration, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil || sec < 0 || sec > 59 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, true
}

// timestampLayouts are tried in order by ParseTimestamp. The last one is the
// month-first layout produced by joining the raw GPS dump's date and time columns.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01-02-2006 15:04:05",
}

// ParseTimestamp parses a fix timestamp. RFC3339 values keep their own zone;
// zone-less values are interpreted in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", s)
}

// ParseDateAndTime joins separate date and time columns and parses the result.
func ParseDateAndTime(date, clock string, loc *time.Location) (time.Time, error) {
	return ParseTimestamp(strings.TrimSpace(date)+" "+strings.TrimSpace(clock), loc)
}

// FormatOffset renders d as HH:MM:SS, the inverse of ParseOffset.
func FormatOffset(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
