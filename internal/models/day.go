package models

import (
	"fmt"
	"time"
)

// DayLayout is the wire format of a logical day.
const DayLayout = "2006-01-02"

// Day is a calendar date without a time component, e.g. "2024-01-10".
// The zero-padded layout makes lexicographic order equal to calendar order.
type Day string

// DayOf returns the logical day of t in t's location.
func DayOf(t time.Time) Day {
	return Day(t.Format(DayLayout))
}

// ParseDay validates s and returns it as a Day.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: expected YYYY-MM-DD", s)
	}
	return DayOf(t), nil
}

func (d Day) String() string { return string(d) }

// IsZero reports whether the day is unset.
func (d Day) IsZero() bool { return d == "" }

func (d Day) Before(other Day) bool { return d < other }

func (d Day) After(other Day) bool { return d > other }

// Time returns midnight of the day in loc.
func (d Day) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DayLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays shifts the day by n calendar days.
func (d Day) AddDays(n int) Day {
	t := d.Time(time.UTC)
	if t.IsZero() {
		return d
	}
	return DayOf(t.AddDate(0, 0, n))
}

// MaxDay returns the later of two days.
func MaxDay(a, b Day) Day {
	if a.After(b) {
		return a
	}
	return b
}
