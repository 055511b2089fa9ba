// Package occurrence computes the next due timestamp of a reminder.
//
// All arithmetic is local-naive: anchor and now are treated as wall-clock
// values and results are built in now's location. No timezone database is
// consulted. Only strictly-future timestamps are valid occurrences.
package occurrence

import (
	"fmt"
	"reminderq/internal/domain"
	"time"
)

// Rule is one recurrence kind. The set of kinds is closed.
type Rule interface {
	next(anchor, now time.Time) (time.Time, bool)
	Kind() domain.Recurrence
}

type (
	Once    struct{}
	Daily   struct{}
	Weekly  struct{}
	Monthly struct{}
)

func (Once) Kind() domain.Recurrence    { return domain.RecurrenceNone }
func (Daily) Kind() domain.Recurrence   { return domain.RecurrenceDaily }
func (Weekly) Kind() domain.Recurrence  { return domain.RecurrenceWeekly }
func (Monthly) Kind() domain.Recurrence { return domain.RecurrenceMonthly }

// RuleFor maps a stored pattern to its rule.
func RuleFor(r domain.Recurrence) (Rule, error) {
	switch r {
	case domain.RecurrenceNone, "":
		return Once{}, nil
	case domain.RecurrenceDaily:
		return Daily{}, nil
	case domain.RecurrenceWeekly:
		return Weekly{}, nil
	case domain.RecurrenceMonthly:
		return Monthly{}, nil
	default:
		return nil, fmt.Errorf("unknown recurrence pattern %q", r)
	}
}

// Next returns the next occurrence of rule strictly after now.
func Next(rule Rule, anchor, now time.Time) (time.Time, bool) {
	t, ok := rule.next(anchor, now)
	if !ok || !t.After(now) {
		return time.Time{}, false
	}
	return t, true
}

// Calculate is Next for a stored pattern.
func Calculate(r domain.Recurrence, anchor, now time.Time) (time.Time, bool, error) {
	rule, err := RuleFor(r)
	if err != nil {
		return time.Time{}, false, err
	}
	t, ok := Next(rule, anchor, now)
	return t, ok, nil
}

func (Once) next(anchor, now time.Time) (time.Time, bool) {
	return anchor, anchor.After(now)
}

func (Daily) next(anchor, now time.Time) (time.Time, bool) {
	t := at(now.Year(), now.Month(), now.Day(), anchor, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}

func (Weekly) next(anchor, now time.Time) (time.Time, bool) {
	delta := (int(anchor.Weekday()) - int(now.Weekday()) + 7) % 7
	t := at(now.Year(), now.Month(), now.Day()+delta, anchor, now.Location())
	if delta == 0 && !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t, true
}

func (Monthly) next(anchor, now time.Time) (time.Time, bool) {
	t := clamped(now.Year(), now.Month(), anchor, now.Location())
	if !t.After(now) {
		t = clamped(now.Year(), now.Month()+1, anchor, now.Location())
	}
	return t, true
}

// clamped places anchor's day-of-month and time-of-day in the given month,
// using the month's last day when the anchor day does not exist there.
// month may overflow; time.Date normalizes it.
func clamped(year int, month time.Month, anchor time.Time, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	day := min(anchor.Day(), DaysIn(first.Year(), first.Month()))
	return at(first.Year(), first.Month(), day, anchor, loc)
}

func at(year int, month time.Month, day int, anchor time.Time, loc *time.Location) time.Time {
	return time.Date(year, month, day, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), loc)
}

// DaysIn returns the number of days in month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
