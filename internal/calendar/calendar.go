// Package calendar provides calendar-date arithmetic used for training expiry.
//
// A calendar date is represented as a time.Time at midnight UTC. Functions in
// this package never look at the clock portion of their inputs beyond
// normalising it away.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Date returns the calendar date y-m-d at midnight UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the clock portion of t, keeping the calendar date as seen in t's location.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// Today returns the current UTC calendar date.
func Today() time.Time {
	return Truncate(time.Now().UTC())
}

// Parse parses a YYYY-MM-DD string into a calendar date.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// Format renders a calendar date as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(DateLayout)
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysIn returns the number of days in the given month of year.
func DaysIn(year int, month time.Month) int {
	switch month {
	case time.February:
		if IsLeapYear(year) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

// AddMonths adds a whole number of months to d, clamping the day of month to
// the last day of the resulting month (Jan 31 + 1 month = Feb 28 or 29).
// Negative month counts move backwards.
func AddMonths(d time.Time, months int) time.Time {
	y, m, day := d.Date()

	// zero-based month index, floored so that negative offsets roll the year back
	idx := int(m) - 1 + months
	yearShift := idx / 12
	idx %= 12
	if idx < 0 {
		idx += 12
		yearShift--
	}

	year := y + yearShift
	month := time.Month(idx + 1)
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return Date(year, month, day)
}

// AddDays adds n calendar days to d.
func AddDays(d time.Time, n int) time.Time {
	return Truncate(d).AddDate(0, 0, n)
}

// DaysBetween returns the number of whole days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	return int(Truncate(b).Sub(Truncate(a)).Hours() / 24)
}
