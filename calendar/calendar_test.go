package calendar

import (
	"testing"
	"time"
)

// TestMonthlySpec matches spec.md §8 scenario 5: minute=30, hour=4,
// day-of-month=1, reference 2025-03-01 04:31:00 local -> next firing
// 2025-04-01 04:30:00 local.
func TestMonthlySpec(t *testing.T) {
	ref := time.Date(2025, time.March, 1, 4, 31, 0, 0, time.Local)
	spec := Spec{Month: Wildcard, DayOfMonth: 1, Weekday: Wildcard, Hour: 4, Minute: 30}

	got := Next(spec, ref)
	want := time.Date(2025, time.April, 1, 4, 30, 0, 0, time.Local)

	if !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got, want)
	}
}

func TestNextAlwaysAfterReference(t *testing.T) {
	specs := []Spec{
		{Month: Wildcard, DayOfMonth: Wildcard, Weekday: Wildcard, Hour: Wildcard, Minute: Wildcard},
		{Month: Wildcard, DayOfMonth: Wildcard, Weekday: Wildcard, Hour: 3, Minute: 15},
		{Month: 5, DayOfMonth: 15, Weekday: Wildcard, Hour: 9, Minute: 0},
		{Month: Wildcard, DayOfMonth: Wildcard, Weekday: 1, Hour: 8, Minute: 0},
		{Month: Wildcard, DayOfMonth: 1, Weekday: 1, Hour: 0, Minute: 0},
	}

	ref := time.Date(2025, time.March, 1, 4, 31, 0, 0, time.Local)

	for _, s := range specs {
		got := Next(s, ref)
		if !got.After(ref) {
			t.Fatalf("Next(%+v, %v) = %v, want strictly after reference", s, ref, got)
		}
		if !s.Matches(got) {
			t.Fatalf("Next(%+v, %v) = %v does not satisfy spec", s, ref, got)
		}
	}
}

func TestWeekdayAndDayOfMonthTieBreak(t *testing.T) {
	// Jan 1 2025 is a Wednesday. Ask for day-of-month 1 OR weekday
	// Monday, both at 00:00 - whichever comes first after the
	// reference should win.
	ref := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.Local)
	spec := Spec{Month: Wildcard, DayOfMonth: 1, Weekday: 1, Hour: 0, Minute: 0}

	got := Next(spec, ref)

	// The next Monday after Jan 1 2025 is Jan 6; the next day-of-month-1
	// firing is Feb 1. Monday wins.
	want := time.Date(2025, time.January, 6, 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got, want)
	}
}

func TestEveryMinute(t *testing.T) {
	ref := time.Date(2025, time.June, 10, 10, 0, 30, 0, time.Local)
	spec := Spec{Month: Wildcard, DayOfMonth: Wildcard, Weekday: Wildcard, Hour: Wildcard, Minute: Wildcard}

	got := Next(spec, ref)
	want := time.Date(2025, time.June, 10, 10, 1, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got, want)
	}
}
