package booking

import (
	"sort"
	"time"
)

// NormalizeDates keeps the entries that parse as YYYY-MM-DD, drops
// duplicates and sorts them ascending. Rejected entries are returned so the
// caller can log them.
func NormalizeDates(raw []string) (dates []string, rejected []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, d := range raw {
		if !IsDate(d) {
			rejected = append(rejected, d)
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, rejected
}

func IsDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// DatesAfter returns the dates strictly later than watermark, or all of them
// when watermark is "". Dates must already be normalized.
func DatesAfter(dates []string, watermark string) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if watermark == "" || d > watermark {
			out = append(out, d)
		}
	}
	return out
}

// DatesInWindow returns the dates in [max(start, tomorrow), start+maxFutureDays]
// inclusive, where tomorrow is the day after now in now's location.
func DatesInWindow(dates []string, start time.Time, maxFutureDays int, now time.Time) []string {
	y, m, d := now.Date()
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC).Format(DateLayout)

	sy, sm, sd := start.Date()
	from := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, maxFutureDays).Format(DateLayout)

	lower := from.Format(DateLayout)
	if tomorrow > lower {
		lower = tomorrow
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if d >= lower && d <= to {
			out = append(out, d)
		}
	}
	return out
}

// Latest returns the greater of two dates, treating "" as unset.
func Latest(a, b string) string {
	if a > b {
		return a
	}
	return b
}
