// Package availability derives bookable dates and start times from an
// owner's weekly recurring windows. Pure computation, no I/O.
package availability

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidServiceDuration = errors.New("service duration must be positive")

// Window is one recurring weekly open/close range. Weekday follows
// time.Weekday numbering (0 = Sunday). Start and End are "HH:mm" clock
// values in the owner's local day.
type Window struct {
	Weekday int
	Start   string
	End     string
}

// SlotsForDate returns the ordered "HH:mm" start times bookable on date for
// a service of the given duration. A date whose weekday has no window yields
// no slots. Slots are generated by start time only: a start is emitted as
// long as it is strictly before the window close, even when start+duration
// would run past it. Callers that want to change that behavior should do so
// at the window definition level, not here.
func SlotsForDate(date time.Time, durationMinutes int, windows []Window) ([]string, error) {
	if durationMinutes <= 0 {
		return nil, ErrInvalidServiceDuration
	}

	win, ok := windowForWeekday(windows, int(date.Weekday()))
	if !ok {
		return nil, nil
	}

	start, okStart := parseClock(win.Start)
	end, okEnd := parseClock(win.End)
	if !okStart || !okEnd {
		return nil, nil
	}

	var slots []string
	for cur := start; cur < end; cur += durationMinutes {
		slots = append(slots, formatClock(cur))
	}
	return slots, nil
}

// DatesForWeek returns the calendar dates of the week weekOffset weeks from
// now (weeks start on Monday) that are today or later and whose weekday has
// a window. Dates are midnight in now's location, earliest first.
func DatesForWeek(weekOffset int, windows []Window, now time.Time) []time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Monday of the current week; Go weeks "start" on Sunday.
	daysSinceMonday := (int(today.Weekday()) + 6) % 7
	monday := today.AddDate(0, 0, -daysSinceMonday+7*weekOffset)

	var dates []time.Time
	for i := 0; i < 7; i++ {
		day := monday.AddDate(0, 0, i)
		if day.Before(today) {
			continue
		}
		if _, ok := windowForWeekday(windows, int(day.Weekday())); ok {
			dates = append(dates, day)
		}
	}
	return dates
}

// windowForWeekday returns the first window matching the weekday. The
// settings API keeps at most one window per weekday, so order only matters
// for legacy rows.
func windowForWeekday(windows []Window, weekday int) (Window, bool) {
	for _, w := range windows {
		if w.Weekday == weekday {
			return w, true
		}
	}
	return Window{}, false
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
