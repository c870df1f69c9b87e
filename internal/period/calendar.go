// Package period computes calendar period boundaries (day, week, month) and
// the boundaries of the period immediately preceding them.
package period

import (
	"fmt"
	"strings"
	"time"
)

// Calendar holds the conventions used to cut time into periods.
// The zero value starts weeks on Sunday and uses the local time zone.
type Calendar struct {
	FirstDay time.Weekday
	Location *time.Location
}

// Default is the Sunday-based, local-time calendar.
var Default = Calendar{FirstDay: time.Sunday}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

func (c Calendar) midnight(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc())
}

// DayStart returns midnight of t's calendar date.
func (c Calendar) DayStart(t time.Time) time.Time {
	t = t.In(c.loc())
	return c.midnight(t.Year(), t.Month(), t.Day())
}

// WeekStart returns midnight of the most recent day (t's own date included)
// falling on the calendar's FirstDay.
func (c Calendar) WeekStart(t time.Time) time.Time {
	t = t.In(c.loc())
	back := (int(t.Weekday()) - int(c.FirstDay) + 7) % 7
	return c.midnight(t.Year(), t.Month(), t.Day()-back)
}

// MonthStart returns the first instant of t's calendar month.
func (c Calendar) MonthStart(t time.Time) time.Time {
	t = t.In(c.loc())
	return c.midnight(t.Year(), t.Month(), 1)
}

// PreviousDay returns the start of the day before t's day.
func (c Calendar) PreviousDay(t time.Time) time.Time {
	return c.DayStart(t).AddDate(0, 0, -1)
}

// PreviousWeek returns the start of the week before t's week.
func (c Calendar) PreviousWeek(t time.Time) time.Time {
	return c.WeekStart(t).AddDate(0, 0, -7)
}

// PreviousMonth returns the start of the month before t's month.
func (c Calendar) PreviousMonth(t time.Time) time.Time {
	ms := c.MonthStart(t)
	return c.midnight(ms.Year(), ms.Month()-1, 1)
}

func (c Calendar) SameDay(a, b time.Time) bool {
	return c.DayStart(a).Equal(c.DayStart(b))
}

func (c Calendar) SameWeek(a, b time.Time) bool {
	return c.WeekStart(a).Equal(c.WeekStart(b))
}

func (c Calendar) SameMonth(a, b time.Time) bool {
	return c.MonthStart(a).Equal(c.MonthStart(b))
}

// DaysSpanned counts the calendar days from start to now, the current
// partial day included: floor((now - start) / 24h) + 1.
func DaysSpanned(start, now time.Time) int {
	if now.Before(start) {
		return 1
	}
	return int(now.Sub(start)/(24*time.Hour)) + 1
}

// ParseWeekday parses a weekday name ("sunday", "Mon", ...).
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
