package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY ARITHMETIC - Whole days only, no partial-day credit
// =============================================================================

// Day is the accrual unit.
const Day = 24 * time.Hour

// WholeDaysBetween returns floor((to - from) / 24h), clamped at zero.
func WholeDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / Day)
}

// =============================================================================
// CALENDAR - Reference time zone for weekday and calendar-day rules
// =============================================================================

// Calendar evaluates calendar rules (weekend gate, one check-in per day) in
// a fixed reference zone, independent of the server's local zone.
type Calendar struct {
	Location *time.Location
}

// DefaultZone is the reference zone used when none is configured.
const DefaultZone = "Africa/Kigali"

// NewCalendar loads the named zone.
func NewCalendar(zone string) (Calendar, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Calendar{}, fmt.Errorf("load reference zone %q: %w", zone, err)
	}
	return Calendar{Location: loc}, nil
}

// UTCCalendar is a calendar in UTC. Handy for tests.
func UTCCalendar() Calendar { return Calendar{Location: time.UTC} }

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// In converts t to the reference zone.
func (c Calendar) In(t time.Time) time.Time { return t.In(c.loc()) }

// IsWeekend reports whether t falls on Saturday or Sunday in the reference zone.
func (c Calendar) IsWeekend(t time.Time) bool {
	wd := c.In(t).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DayKey returns the calendar day of t in the reference zone as YYYY-MM-DD.
func (c Calendar) DayKey(t time.Time) string { return c.In(t).Format("2006-01-02") }

// DayRange returns [start of day, start of next day) for t in the reference zone.
func (c Calendar) DayRange(t time.Time) (time.Time, time.Time) {
	lt := c.In(t)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc())
	return start, start.AddDate(0, 0, 1)
}
