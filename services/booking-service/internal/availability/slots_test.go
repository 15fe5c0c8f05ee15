package availability

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSlotsForDate_FullDay(t *testing.T) {
	windows := []Window{{Weekday: 2, Start: "09:00", End: "17:00"}}
	// 2025-06-10 is a Tuesday.
	slots, err := SlotsForDate(date(2025, time.June, 10), 60, windows)
	if err != nil {
		t.Fatalf("SlotsForDate failed: %v", err)
	}
	want := []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d (%v)", len(want), len(slots), slots)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], slots[i])
		}
	}
}

func TestSlotsForDate_NoWindowForWeekday(t *testing.T) {
	windows := []Window{{Weekday: 2, Start: "09:00", End: "17:00"}}
	// 2025-06-11 is a Wednesday.
	slots, err := SlotsForDate(date(2025, time.June, 11), 60, windows)
	if err != nil {
		t.Fatalf("SlotsForDate failed: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %v", slots)
	}
}

func TestSlotsForDate_LastSlotMayOverrunClose(t *testing.T) {
	// A 45-minute service in a 09:00-10:00 window still offers 09:45: slot
	// generation is by start time only.
	windows := []Window{{Weekday: 2, Start: "09:00", End: "10:00"}}
	slots, err := SlotsForDate(date(2025, time.June, 10), 45, windows)
	if err != nil {
		t.Fatalf("SlotsForDate failed: %v", err)
	}
	if len(slots) != 2 || slots[0] != "09:00" || slots[1] != "09:45" {
		t.Fatalf("expected [09:00 09:45], got %v", slots)
	}
}

func TestSlotsForDate_NeverEmitsClose(t *testing.T) {
	windows := []Window{{Weekday: 2, Start: "09:00", End: "10:00"}}
	slots, err := SlotsForDate(date(2025, time.June, 10), 30, windows)
	if err != nil {
		t.Fatalf("SlotsForDate failed: %v", err)
	}
	for _, s := range slots {
		if s == "10:00" {
			t.Fatalf("close time must not be a slot: %v", slots)
		}
	}
	if len(slots) != 2 {
		t.Fatalf("expected [09:00 09:30], got %v", slots)
	}
}

func TestSlotsForDate_InvalidDuration(t *testing.T) {
	windows := []Window{{Weekday: 2, Start: "09:00", End: "17:00"}}
	if _, err := SlotsForDate(date(2025, time.June, 10), 0, windows); err != ErrInvalidServiceDuration {
		t.Fatalf("expected ErrInvalidServiceDuration, got %v", err)
	}
	if _, err := SlotsForDate(date(2025, time.June, 10), -15, windows); err != ErrInvalidServiceDuration {
		t.Fatalf("expected ErrInvalidServiceDuration, got %v", err)
	}
}

func TestSlotsForDate_MalformedWindowTimes(t *testing.T) {
	windows := []Window{{Weekday: 2, Start: "", End: "17:00"}}
	slots, err := SlotsForDate(date(2025, time.June, 10), 30, windows)
	if err != nil {
		t.Fatalf("SlotsForDate failed: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots for window without start, got %v", slots)
	}
}

func TestDatesForWeek_SkipsPastDays(t *testing.T) {
	windows := []Window{
		{Weekday: 1, Start: "09:00", End: "17:00"}, // Monday
		{Weekday: 4, Start: "09:00", End: "17:00"}, // Thursday
	}
	// Wednesday 2025-06-11: Monday of this week (06-09) is already past.
	now := time.Date(2025, time.June, 11, 15, 30, 0, 0, time.UTC)

	dates := DatesForWeek(0, windows, now)
	if len(dates) != 1 {
		t.Fatalf("expected 1 date, got %v", dates)
	}
	if !dates[0].Equal(date(2025, time.June, 12)) {
		t.Fatalf("expected Thursday 2025-06-12, got %s", dates[0])
	}
	for _, d := range dates {
		if d.Before(date(2025, time.June, 11)) {
			t.Fatalf("date before today returned: %s", d)
		}
	}
}

func TestDatesForWeek_NextWeekIncludesAllMatchingDays(t *testing.T) {
	windows := []Window{
		{Weekday: 1, Start: "09:00", End: "17:00"},
		{Weekday: 4, Start: "09:00", End: "17:00"},
	}
	now := time.Date(2025, time.June, 11, 15, 30, 0, 0, time.UTC)

	dates := DatesForWeek(1, windows, now)
	if len(dates) != 2 {
		t.Fatalf("expected 2 dates, got %v", dates)
	}
	if !dates[0].Equal(date(2025, time.June, 16)) || !dates[1].Equal(date(2025, time.June, 19)) {
		t.Fatalf("unexpected dates: %v", dates)
	}
}

func TestDatesForWeek_Deterministic(t *testing.T) {
	windows := []Window{
		{Weekday: 1, Start: "09:00", End: "17:00"},
		{Weekday: 2, Start: "10:00", End: "14:00"},
	}
	now := time.Date(2025, time.June, 9, 8, 0, 0, 0, time.UTC)

	first := DatesForWeek(0, windows, now)
	second := DatesForWeek(0, windows, now)
	if len(first) != len(second) {
		t.Fatalf("call count changed result length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Fatalf("call count changed result order at %d", i)
		}
	}
}
