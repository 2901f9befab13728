package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionDuration is the fixed length of a therapy session.
const SessionDuration = 3 * time.Hour

// BusinessCalendar encodes the facility's operating policy: time zone,
// opening hours, valid weekdays and holidays. It is pure; holidays are
// injected at construction.
type BusinessCalendar struct {
	loc       *time.Location
	openMin   int // minutes after midnight
	closeMin  int
	validDays map[time.Weekday]bool
	holidays  map[string]bool // keyed YYYY-MM-DD in facility local time
}

// CalendarOption configures a BusinessCalendar.
type CalendarOption func(*BusinessCalendar)

// WithHours overrides the default 09:00-19:00 window.
func WithHours(open, close string) CalendarOption {
	return func(c *BusinessCalendar) {
		if m, err := ParseMinutes(open); err == nil {
			c.openMin = m
		}
		if m, err := ParseMinutes(close); err == nil {
			c.closeMin = m
		}
	}
}

// WithValidDays overrides the default Mon-Fri weekday set.
func WithValidDays(days []time.Weekday) CalendarOption {
	return func(c *BusinessCalendar) {
		c.validDays = make(map[time.Weekday]bool, len(days))
		for _, d := range days {
			c.validDays[d] = true
		}
	}
}

// WithHolidays injects facility closure dates (YYYY-MM-DD).
func WithHolidays(dates []string) CalendarOption {
	return func(c *BusinessCalendar) {
		for _, d := range dates {
			c.holidays[d] = true
		}
	}
}

// NewBusinessCalendar creates a calendar for the given IANA time zone.
func NewBusinessCalendar(timezone string, opts ...CalendarOption) (*BusinessCalendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid facility timezone %q: %w", timezone, err)
	}

	cal := &BusinessCalendar{
		loc:      loc,
		openMin:  9 * 60,
		closeMin: 19 * 60,
		validDays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		holidays: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(cal)
	}

	return cal, nil
}

// Location returns the facility time zone.
func (c *BusinessCalendar) Location() *time.Location {
	return c.loc
}

// OpenMinutes returns the opening time as minutes after midnight.
func (c *BusinessCalendar) OpenMinutes() int { return c.openMin }

// CloseMinutes returns the closing time as minutes after midnight.
func (c *BusinessCalendar) CloseMinutes() int { return c.closeMin }

// IsBusinessDay reports whether the instant falls on a valid weekday
// that is not a holiday, in facility local time.
func (c *BusinessCalendar) IsBusinessDay(t time.Time) bool {
	local := t.In(c.loc)
	if !c.validDays[local.Weekday()] {
		return false
	}
	return !c.holidays[local.Format("2006-01-02")]
}

// IsHoliday reports whether the instant falls on a facility closure
// date, independent of the weekday check.
func (c *BusinessCalendar) IsHoliday(t time.Time) bool {
	return c.holidays[t.In(c.loc).Format("2006-01-02")]
}

// WithinBusinessHours reports whether [start, end] lies inside the
// facility's operating window on a single local day.
func (c *BusinessCalendar) WithinBusinessHours(start, end time.Time) bool {
	ls := start.In(c.loc)
	le := end.In(c.loc)
	if ls.Year() != le.Year() || ls.YearDay() != le.YearDay() {
		return false
	}
	startMin := ls.Hour()*60 + ls.Minute()
	endMin := le.Hour()*60 + le.Minute()
	return startMin >= c.openMin && endMin <= c.closeMin
}

// At returns the absolute instant for a local HH:MM on the same local
// date as the given instant.
func (c *BusinessCalendar) At(date time.Time, hhmm string) (time.Time, error) {
	minutes, err := ParseMinutes(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	local := date.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), minutes/60, minutes%60, 0, 0, c.loc), nil
}

// NextBusinessDay returns the first business day strictly after the
// given instant, at the same local time of day.
func (c *BusinessCalendar) NextBusinessDay(t time.Time) time.Time {
	next := t.In(c.loc).AddDate(0, 0, 1)
	for !c.IsBusinessDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MinutesOfDay returns the local minutes after midnight for an instant.
func (c *BusinessCalendar) MinutesOfDay(t time.Time) int {
	local := t.In(c.loc)
	return local.Hour()*60 + local.Minute()
}

// LocalDate returns the facility-local calendar date (YYYY-MM-DD).
func (c *BusinessCalendar) LocalDate(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// ParseMinutes parses an HH:MM string into minutes after midnight.
func ParseMinutes(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return h*60 + m, nil
}

// FormatMinutes renders minutes after midnight as HH:MM.
func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
