// Package time centralizes the boundary's clock and timestamp formats.
// Persisted timestamps use a fixed-width ISO-8601 layout so lexicographic
// key order equals time order.
package time

import "time"

// ISO8601Layout is fixed width (millisecond precision, always 3 digits) so
// formatted timestamps sort lexicographically.
const ISO8601Layout = "2006-01-02T15:04:05.000Z"

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}

// ISO8601 formats t in the fixed-width layout.
func ISO8601(t time.Time) string {
	return t.UTC().Format(ISO8601Layout)
}

// ParseISO8601 parses a timestamp produced by ISO8601.
func ParseISO8601(s string) (time.Time, error) {
	return time.Parse(ISO8601Layout, s)
}

// UnixMs returns t as milliseconds since the epoch.
func UnixMs(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
