package notice

import (
	"strings"
	"time"
)

// DateLayout is the storage and display layout of notice dates.
const DateLayout = "2006-01-02"

// FeedDateLayout is the date layout used by upstream feeds.
const FeedDateLayout = "20060102"

// IsWeekend reports whether d falls on Saturday or Sunday.
func IsWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// PrevBusinessDay returns the last weekday strictly before d.
func PrevBusinessDay(d time.Time) time.Time {
	d = d.AddDate(0, 0, -1)
	for IsWeekend(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// RecentBusinessDays returns the two most recent business days as of now,
// as ISO dates: the business "today" (today, or the previous business day
// on a weekend) and the business day before it.
func RecentBusinessDays(now time.Time) [2]string {
	today := Day(now)
	if IsWeekend(today) {
		today = PrevBusinessDay(today)
	}
	return [2]string{today.Format(DateLayout), PrevBusinessDay(today).Format(DateLayout)}
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a stored notice date. Values with at least eight digits
// are read as YYYYMMDD from the digits; otherwise YYYY-MM-DD is tried.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	digits := OnlyDigits(s)
	if len(digits) >= 8 {
		if t, err := time.Parse(FeedDateLayout, digits[:8]); err == nil {
			return t, true
		}
	}
	if len(s) == 10 && strings.Count(s, "-") == 2 {
		if t, err := time.Parse(DateLayout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DaysBetween returns the whole days from start to end, ignoring time of day.
func DaysBetween(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}
