// Package calendar models agency working time and computes business-hours deadlines.
package calendar

import (
	"fmt"
	"time"

	"github.com/rickar/cal/v2"

	"github.com/govdesk/sla-service/internal/domain"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (seconds are accepted and ignored).
func ParseClock(value string) (Clock, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return Clock{}, fmt.Errorf("invalid time of day %q", value)
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

// On returns the instant of this clock time on the calendar date of day.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

// Window is the working period of one day.
type Window struct {
	Start Clock
	End   Clock
}

func newWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	// Windows never cross midnight.
	if e.minutes() <= s.minutes() {
		return Window{}, fmt.Errorf("end %s is not after start %s", end, start)
	}
	return Window{Start: s, End: e}, nil
}

type dayOverride struct {
	working bool
	window  *Window
}

// Schedule answers whether a date is a working day and what its window is.
// Precedence: date override, then public holiday, then the weekly table.
type Schedule struct {
	loc       *time.Location
	weekly    map[time.Weekday]Window
	overrides map[string]dayOverride
	holidays  *cal.BusinessCalendar
	rejected  []string
}

// NewSchedule builds a schedule. Inactive or malformed weekly entries are ignored, and
// holidays may be nil.
func NewSchedule(
	hours []domain.AgencyBusinessHour,
	overrides []domain.BusinessCalendarOverride,
	holidays *cal.BusinessCalendar,
	loc *time.Location,
) *Schedule {
	if loc == nil {
		loc = time.UTC
	}
	s := &Schedule{
		loc:       loc,
		weekly:    make(map[time.Weekday]Window),
		overrides: make(map[string]dayOverride),
		holidays:  holidays,
	}
	for _, h := range hours {
		if !h.IsActive {
			continue
		}
		w, err := newWindow(h.StartTime, h.EndTime)
		if err != nil {
			s.rejected = append(s.rejected, fmt.Sprintf("%s: %v", h.DayOfWeek, err))
			continue
		}
		s.weekly[h.DayOfWeek] = w
	}
	for _, o := range overrides {
		entry := dayOverride{working: o.IsWorkingDay}
		if o.IsWorkingDay && o.StartTime != nil && o.EndTime != nil {
			w, err := newWindow(*o.StartTime, *o.EndTime)
			if err != nil {
				s.rejected = append(s.rejected, fmt.Sprintf("%s: %v", domain.DateKey(o.Date), err))
			} else {
				entry.window = &w
			}
		}
		s.overrides[domain.DateKey(o.Date)] = entry
	}
	return s
}

// Location is the time zone the schedule's wall-clock times are expressed in.
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// Rejected describes the active weekly and override entries that were ignored because
// their hours could not be used.
func (s *Schedule) Rejected() []string {
	return s.rejected
}

// HasWorkingHours reports whether any day could ever be a working day.
func (s *Schedule) HasWorkingHours() bool {
	if len(s.weekly) > 0 {
		return true
	}
	for _, o := range s.overrides {
		if o.working && o.window != nil {
			return true
		}
	}
	return false
}

// WindowFor returns the working window of the calendar date of day, expressed in the
// schedule location.
func (s *Schedule) WindowFor(day time.Time) (Window, bool) {
	day = day.In(s.loc)
	if o, ok := s.overrides[domain.DateKey(day)]; ok {
		if !o.working {
			return Window{}, false
		}
		if o.window != nil {
			return *o.window, true
		}
		// Working override without hours: use that weekday's hours, else the first
		// configured window of the week.
		if w, ok := s.weekly[day.Weekday()]; ok {
			return w, true
		}
		return s.firstWeeklyWindow()
	}
	if s.isHoliday(day) {
		return Window{}, false
	}
	w, ok := s.weekly[day.Weekday()]
	return w, ok
}

func (s *Schedule) firstWeeklyWindow() (Window, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w, ok := s.weekly[d]; ok {
			return w, true
		}
	}
	return Window{}, false
}

func (s *Schedule) isHoliday(day time.Time) bool {
	if s.holidays == nil {
		return false
	}
	actual, observed, _ := s.holidays.IsHoliday(day)
	return actual || observed
}

// AddMinutes walks forward from start consuming working minutes. It reports false when
// maxIterations days were visited without exhausting the duration.
func (s *Schedule) AddMinutes(start time.Time, minutes, maxIterations int) (time.Time, bool) {
	remaining := time.Duration(minutes) * time.Minute
	if remaining <= 0 {
		return start, true
	}
	cursor := start.In(s.loc)
	for i := 0; i < maxIterations; i++ {
		if w, ok := s.WindowFor(cursor); ok {
			opening, closing := w.Start.On(cursor), w.End.On(cursor)
			if cursor.Before(opening) {
				cursor = opening
			}
			if cursor.Before(closing) {
				available := closing.Sub(cursor)
				if remaining <= available {
					return cursor.Add(remaining).In(start.Location()), true
				}
				remaining -= available
			}
		}
		cursor = nextDay(cursor)
	}
	return time.Time{}, false
}

// MinutesBetween counts working minutes in [from, to). It reports false when the range
// spans more than maxDays days.
func (s *Schedule) MinutesBetween(from, to time.Time, maxDays int) (int64, bool) {
	if !to.After(from) {
		return 0, true
	}
	var total time.Duration
	cursor := from.In(s.loc)
	end := to.In(s.loc)
	for i := 0; cursor.Before(end); i++ {
		if i >= maxDays {
			return int64(total / time.Minute), false
		}
		if w, ok := s.WindowFor(cursor); ok {
			opening, closing := w.Start.On(cursor), w.End.On(cursor)
			lo, hi := laterOf(opening, cursor), earlierOf(closing, end)
			if hi.After(lo) {
				total += hi.Sub(lo)
			}
		}
		cursor = nextDay(cursor)
	}
	return int64(total / time.Minute), true
}

// nextDay returns midnight of the following calendar date.
func nextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
