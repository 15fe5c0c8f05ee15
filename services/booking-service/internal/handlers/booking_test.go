package handlers

import (
	"strings"
	"testing"
	"time"

	"github.com/csmaxi/miturno/services/booking-service/internal/model"
)

func TestFilterTaken(t *testing.T) {
	slots := []string{"09:00", "10:00", "11:00", "12:00"}
	free := filterTaken(slots, []string{"10:00", "12:00"})
	want := []string{"09:00", "11:00"}
	if len(free) != len(want) {
		t.Fatalf("free = %v, want %v", free, want)
	}
	for i := range want {
		if free[i] != want[i] {
			t.Fatalf("free[%d] = %q, want %q", i, free[i], want[i])
		}
	}
}

func TestFilterTakenNothingTaken(t *testing.T) {
	slots := []string{"09:00", "10:00"}
	free := filterTaken(slots, nil)
	if len(free) != 2 {
		t.Fatalf("expected all slots free, got %v", free)
	}
}

func TestAddMinutes(t *testing.T) {
	got, err := addMinutes("09:30", 45)
	if err != nil {
		t.Fatalf("addMinutes: %v", err)
	}
	if got != "10:15" {
		t.Fatalf("got %q, want 10:15", got)
	}
}

func TestAddMinutesInvalidClock(t *testing.T) {
	if _, err := addMinutes("9am", 30); err == nil {
		t.Fatal("expected error for malformed clock")
	}
}

func TestBeforeToday(t *testing.T) {
	now := time.Date(2026, 9, 1, 15, 30, 0, 0, time.UTC)
	cases := []struct {
		name string
		date time.Time
		want bool
	}{
		{"yesterday", time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), true},
		{"today", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), false},
		{"tomorrow", time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), false},
		{"last year", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := beforeToday(tc.date, now); got != tc.want {
				t.Fatalf("beforeToday(%s) = %v, want %v", tc.date.Format("2006-01-02"), got, tc.want)
			}
		})
	}
}

func TestContainsSlot(t *testing.T) {
	slots := []string{"09:00", "09:30"}
	if !containsSlot(slots, "09:30") {
		t.Fatal("expected 09:30 to be present")
	}
	if containsSlot(slots, "10:00") {
		t.Fatal("did not expect 10:00")
	}
}

func TestConfirmedMessageMentionsClientAndTime(t *testing.T) {
	appt := model.Appointment{
		ClientName: "Ana",
		Date:       time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC),
		StartTime:  "14:00",
	}
	msg := confirmedMessage(appt)
	for _, frag := range []string{"Ana", "12/06/2025", "14:00"} {
		if !strings.Contains(msg, frag) {
			t.Fatalf("message %q missing %q", msg, frag)
		}
	}
}
