package snapshot

import (
	"strings"
	"time"
)

// UnknownReleaseDate replaces release dates that cannot be normalized.
const UnknownReleaseDate = "unknown"

const dateLayout = "2006-01-02"

// NormalizeReleaseDate converts a catalog release date to YYYY-MM-DD.
//
// A bare year becomes January 1st of that year and a year-month becomes the
// first of that month. A full date is returned unchanged. Anything else maps
// to UnknownReleaseDate and ok is false.
func NormalizeReleaseDate(raw string) (date string, ok bool) {
	raw = strings.TrimSpace(raw)

	switch len(raw) {
	case len("2006"):
		if _, err := time.Parse("2006", raw); err == nil {
			return raw + "-01-01", true
		}
	case len("2006-01"):
		if _, err := time.Parse("2006-01", raw); err == nil {
			return raw + "-01", true
		}
	case len(dateLayout):
		if _, err := time.Parse(dateLayout, raw); err == nil {
			return raw, true
		}
	}
	return UnknownReleaseDate, false
}
