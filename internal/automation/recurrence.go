package automation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	DefaultTime      = "09:00"
	DefaultFrequency = FrequencyWeekly
)

// NextRun reports when entry is next due. The schedule date and time are read
// in now's location. Paused and completed entries, and one-shot entries that
// already fired, have no next run. A one-shot entry that never ran returns its
// scheduled instant even when it is in the past. Active recurring entries
// always return an instant strictly after now.
func NextRun(entry Entry, now time.Time) *time.Time {
	first := DueAt(entry, now.Location())
	if first == nil || entry.Schedule.Type != ScheduleRecurring || first.After(now) {
		return first
	}
	base, steps, freq, anchorDay := recurrenceBase(entry, now.Location())
	n := catchUpSteps(base, now, freq)
	if n < steps {
		n = steps
	}
	// The estimate lands at most a step short of the first future fire time.
	for !Advance(base, freq, n, anchorDay).After(now) {
		n++
	}
	next := Advance(base, freq, n, anchorDay)
	return &next
}

// DueAt reports the first fire time the entry has not executed yet: the
// scheduled instant when it never ran, otherwise one period after the last
// run. Unlike NextRun it does not skip missed occurrences, so an entry is due
// whenever DueAt is at or before now.
func DueAt(entry Entry, loc *time.Location) *time.Time {
	if entry.Status != StatusActive {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	scheduled, err := ScheduledAt(entry.Schedule, loc)
	if err != nil {
		return nil
	}
	switch entry.Schedule.Type {
	case ScheduleOnce:
		if entry.LastRun != nil {
			return nil
		}
		return &scheduled
	case ScheduleRecurring:
		base, steps, freq, anchorDay := recurrenceBase(entry, loc)
		first := Advance(base, freq, steps, anchorDay)
		return &first
	default:
		return nil
	}
}

// recurrenceBase returns the instant periods are counted from and the first
// step that is still pending.
func recurrenceBase(entry Entry, loc *time.Location) (base time.Time, steps int, freq Frequency, anchorDay int) {
	scheduled, _ := ScheduledAt(entry.Schedule, loc)
	freq = entry.Schedule.Frequency
	if !freq.Valid() {
		freq = DefaultFrequency
	}
	base = scheduled
	// A schedule moved past the last run restarts from its new start.
	if entry.LastRun != nil && !entry.LastRun.Before(scheduled) {
		base = entry.LastRun.In(loc)
		steps = 1
	}
	return base, steps, freq, scheduled.Day()
}

// catchUpSteps estimates how many whole periods separate base from now,
// rounding down so the caller never skips a fire time.
func catchUpSteps(base, now time.Time, freq Frequency) int {
	if !now.After(base) {
		return 0
	}
	now = now.In(base.Location())
	var n int
	switch freq {
	case FrequencyDaily:
		n = calendarDays(base, now)
	case FrequencyMonthly:
		n = (now.Year()-base.Year())*12 + int(now.Month()) - int(base.Month())
	default:
		n = calendarDays(base, now) / 7
	}
	if n > 0 {
		n--
	}
	return n
}

func calendarDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC).Unix()
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC).Unix()
	return int((b - a) / 86400)
}

// Advance moves t forward by n periods of freq. Monthly steps keep anchorDay
// as the preferred day of month and clamp to the last day of shorter months,
// so Jan 31 advances to Feb 28 (29 in leap years) and then back to Mar 31.
func Advance(t time.Time, freq Frequency, n int, anchorDay int) time.Time {
	switch freq {
	case FrequencyDaily:
		return t.AddDate(0, 0, n)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*n)
	case FrequencyMonthly:
		return addMonthsClamped(t, n, anchorDay)
	default:
		return t.AddDate(0, 0, 7*n)
	}
}

func addMonthsClamped(t time.Time, n int, anchorDay int) time.Time {
	if anchorDay <= 0 {
		anchorDay = t.Day()
	}
	y, m, _ := t.Date()
	// First of the target month never overflows.
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, n, 0)
	day := anchorDay
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// ScheduledAt combines the schedule's date and time in loc.
func ScheduledAt(s Schedule, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date := strings.TrimSpace(s.Date)
	if date == "" {
		return time.Time{}, errors.New("schedule.date is required")
	}
	clock := strings.TrimSpace(s.Time)
	if clock == "" {
		clock = DefaultTime
	}
	t, err := time.ParseInLocation(dateLayout+" "+clockLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q %q: %w", date, clock, err)
	}
	return t, nil
}

// LoadLocation resolves a timezone name; empty and "Local" mean time.Local.
func LoadLocation(raw string) (*time.Location, error) {
	name := strings.TrimSpace(raw)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

func validDate(raw string) bool {
	_, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	return err == nil
}

func validClock(raw string) bool {
	_, err := time.Parse(clockLayout, strings.TrimSpace(raw))
	return err == nil
}
