// Package bookings holds the read-only queries run against a fetched
// bookings list: status filtering, next-upcoming lookup, range overlap and
// availability flattening. All functions are pure; callers pass "now".
package bookings

import (
	"sort"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/caleu"
)

// Slot is one availability range flattened out of a schedule's date overrides
type Slot struct {
	ScheduleName string    `json:"schedule_name"`
	ScheduleID   caleu.ID  `json:"schedule_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// matches reports whether b passes the status filter. An empty filter
// matches everything.
func matches(b caleu.Booking, statuses []caleu.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if b.Status == s {
			return true
		}
	}
	return false
}

// Filter returns the bookings whose status is one of statuses, preserving order
func Filter(all []caleu.Booking, statuses ...caleu.Status) []caleu.Booking {
	result := make([]caleu.Booking, 0, len(all))
	for _, b := range all {
		if matches(b, statuses) {
			result = append(result, b)
		}
	}
	return result
}

// Count returns the number of bookings matching the status filter
func Count(all []caleu.Booking, statuses ...caleu.Status) int {
	n := 0
	for _, b := range all {
		if matches(b, statuses) {
			n++
		}
	}
	return n
}

// NextUpcoming returns the matching booking with the earliest start among
// those that have an end time strictly after now. Ties keep response order.
func NextUpcoming(all []caleu.Booking, now time.Time, statuses ...caleu.Status) (caleu.Booking, bool) {
	now = now.UTC()
	best := -1
	for i, b := range all {
		if !matches(b, statuses) || b.End.IsZero() || !b.End.After(now) {
			continue
		}
		if best == -1 || b.Start.Before(all[best].Start) {
			best = i
		}
	}

	if best == -1 {
		return caleu.Booking{}, false
	}
	return all[best], true
}

// InRange returns the matching bookings whose [Start, End] overlaps
// [start, end] inclusively, ordered by start. Bookings without both times
// are skipped.
func InRange(all []caleu.Booking, start, end time.Time, statuses ...caleu.Status) []caleu.Booking {
	start, end = start.UTC(), end.UTC()

	result := make([]caleu.Booking, 0)
	for _, b := range all {
		if !matches(b, statuses) || !b.HasTimes() {
			continue
		}
		if !b.End.Before(start) && !b.Start.After(end) {
			result = append(result, b)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Start.Before(result[j].Start)
	})
	return result
}

// Slots flattens every schedule's date-override ranges in
// schedule, override, range order
func Slots(schedules []caleu.Schedule) []Slot {
	slots := make([]Slot, 0)
	for _, s := range schedules {
		for _, override := range s.DateOverrides {
			for _, r := range override.Ranges {
				slots = append(slots, Slot{
					ScheduleName: s.Name,
					ScheduleID:   s.ID,
					Start:        r.Start,
					End:          r.End,
				})
			}
		}
	}
	return slots
}
