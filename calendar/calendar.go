// Package calendar implements the calendar-interval activation source's
// "next firing time" computation: a pure function ported from
// launchd's cronemu/cronemu_mon/cronemu_mday/cronemu_hour/cronemu_min
// cascade (original_source/launchd/src/launchd.c), translated from
// struct tm field clamping into time.Time arithmetic.
package calendar

import "time"

// Wildcard marks a field as unconstrained, matching the -1 convention
// from the original cron-style specification.
const Wildcard = -1

// Spec is a five-field cron-style calendar specification. Any field
// may be Wildcard. Month is 0-11 (January = 0) and Weekday is 0-6
// (Sunday = 0); a Weekday of 7 is folded to 0 before use, matching the
// original's cronemu_wday convention.
type Spec struct {
	Month      int // 0-11
	DayOfMonth int // 1-31
	Weekday    int // 0-6 (7 also accepted, treated as 0)
	Hour       int // 0-23
	Minute     int // 0-59
}

// Matches reports whether t satisfies every non-wildcard field of s,
// used by the property test in spec.md §8. When both DayOfMonth and
// Weekday are constrained, either one matching satisfies the day, the
// same rule Next's tie-break follows.
func (s Spec) Matches(t time.Time) bool {
	if s.Month != Wildcard && int(t.Month())-1 != s.Month {
		return false
	}
	mdayOK := s.DayOfMonth == Wildcard || t.Day() == s.DayOfMonth
	wdayOK := s.Weekday == Wildcard || int(t.Weekday()) == s.Weekday%7
	if s.DayOfMonth != Wildcard && s.Weekday != Wildcard {
		if !mdayOK && !wdayOK {
			return false
		}
	} else if !mdayOK || !wdayOK {
		return false
	}
	if s.Hour != Wildcard && t.Hour() != s.Hour {
		return false
	}
	if s.Minute != Wildcard && t.Minute() != s.Minute {
		return false
	}
	return true
}

// Next returns the earliest local time strictly after reference that
// satisfies s. When both DayOfMonth and Weekday are constrained, the
// earlier of the two independently-computed candidates wins, matching
// the original's day-of-month-vs-weekday tie-break.
func Next(s Spec, reference time.Time) time.Time {
	reference = reference.Local()

	primary := cronemu(s.Month, s.DayOfMonth, s.Hour, s.Minute, reference)

	if s.Weekday == Wildcard {
		return primary
	}

	byWeekday := cronemuWeekday(s.Weekday, s.Hour, s.Minute, reference)

	if s.DayOfMonth == Wildcard {
		return byWeekday
	}

	if byWeekday.Before(primary) {
		return byWeekday
	}
	return primary
}

// cronemu ports launchd's cronemu(): starting one minute past
// reference, descend month -> day-of-month -> hour -> minute,
// advancing and resetting lower fields whenever a field fails to
// match, until every field agrees.
func cronemu(mon, mday, hour, min int, reference time.Time) time.Time {
	loc := reference.Location()
	working := reference.Add(time.Minute).Truncate(time.Minute)

	// Give month-roll-over at most a handful of years to converge;
	// the original relies on mktime normalization to detect this and
	// bumps the year at most once per call chain. We search forward
	// bounded generously to stay a pure, terminating function even
	// for impossible specs like day-of-month 31 in February.
	limit := working.AddDate(5, 0, 0)

	for {
		if !working.Before(limit) {
			// No matching time found; return the limit so callers never
			// loop forever on an impossible spec.
			return limit
		}

		next, ok := cronemuMon(working, mon, mday, hour, min, loc)
		if ok {
			return next
		}

		// Carry into the next year, matching cronemu()'s outer loop.
		working = time.Date(working.Year()+1, time.January, 1, 0, 0, 0, 0, loc)
	}
}

func cronemuMon(wtm time.Time, mon, mday, hour, min int, loc *time.Location) (time.Time, bool) {
	if mon == Wildcard {
		working := wtm
		for {
			next, ok := cronemuMday(working, mday, hour, min, loc)
			if ok {
				return next, true
			}

			working = time.Date(working.Year(), working.Month()+1, 1, 0, 0, 0, 0, loc)
			if working.Year() != wtm.Year() {
				// Wrapped past December: let the caller carry the year.
				return working, false
			}
		}
	}

	targetMonth := time.Month(mon + 1)
	if targetMonth < wtm.Month() {
		return time.Time{}, false
	}
	if targetMonth > wtm.Month() {
		wtm = time.Date(wtm.Year(), targetMonth, 1, 0, 0, 0, 0, loc)
	}

	return cronemuMday(wtm, mday, hour, min, loc)
}

func cronemuMday(wtm time.Time, mday, hour, min int, loc *time.Location) (time.Time, bool) {
	if mday == Wildcard {
		working := wtm
		startMonth := working.Month()
		for {
			next, ok := cronemuHour(working, hour, min, loc)
			if ok {
				return next, true
			}

			working = time.Date(working.Year(), working.Month(), working.Day()+1, 0, 0, 0, 0, loc)
			if working.Month() != startMonth {
				return working, false
			}
		}
	}

	if mday < wtm.Day() {
		return time.Time{}, false
	}
	if mday > wtm.Day() {
		wtm = time.Date(wtm.Year(), wtm.Month(), mday, 0, 0, 0, 0, loc)
		if wtm.Day() != mday {
			// mday overflowed into the next month (e.g. Feb 31): no match
			// this month.
			return time.Time{}, false
		}
	}

	return cronemuHour(wtm, hour, min, loc)
}

func cronemuHour(wtm time.Time, hour, min int, loc *time.Location) (time.Time, bool) {
	if hour == Wildcard {
		working := wtm
		startDay := working.Day()
		for {
			next, ok := cronemuMin(working, min)
			if ok {
				return next, true
			}

			working = working.Add(time.Hour)
			working = time.Date(working.Year(), working.Month(), working.Day(), working.Hour(), 0, 0, 0, loc)
			if working.Day() != startDay {
				return working, false
			}
		}
	}

	if hour < wtm.Hour() {
		return time.Time{}, false
	}
	if hour > wtm.Hour() {
		wtm = time.Date(wtm.Year(), wtm.Month(), wtm.Day(), hour, 0, 0, 0, loc)
	}

	return cronemuMin(wtm, min)
}

func cronemuMin(wtm time.Time, min int) (time.Time, bool) {
	if min == Wildcard {
		return wtm, true
	}

	if min < wtm.Minute() {
		return time.Time{}, false
	}
	if min > wtm.Minute() {
		wtm = time.Date(wtm.Year(), wtm.Month(), wtm.Day(), wtm.Hour(), min, 0, 0, wtm.Location())
	}

	return wtm, true
}

// cronemuWeekday ports cronemu_wday(): advance whole days until the
// weekday matches and the hour/minute cascade also matches.
func cronemuWeekday(wday, hour, min int, reference time.Time) time.Time {
	loc := reference.Location()
	working := reference.Add(time.Minute).Truncate(time.Minute)

	if wday == 7 {
		wday = 0
	}

	limit := working.AddDate(1, 0, 0)

	for working.Before(limit) {
		if int(working.Weekday()) == wday {
			if next, ok := cronemuHour(working, hour, min, loc); ok {
				return next
			}
		}

		working = time.Date(working.Year(), working.Month(), working.Day()+1, 0, 0, 0, 0, loc)
	}

	return limit
}
