// Package views renders the coordinator's latest snapshot as a calendar
// and a set of sensors. Views never trigger network activity.
package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/caleu"
	"github.com/rpliva/hacs-cal-eu/internal/coordinator"
)

// DefaultSummary is used for bookings without a title
const DefaultSummary = "Cal.eu Booking"

// Source is the read side of the coordinator
type Source interface {
	CurrentSnapshot() *coordinator.Snapshot
	NextUpcoming(statuses ...caleu.Status) (caleu.Booking, bool)
	EventsInRange(start, end time.Time, statuses ...caleu.Status) []caleu.Booking
	Count(statuses ...caleu.Status) int
	Now() time.Time
}

// CalendarEvent is a booking projected onto a calendar
type CalendarEvent struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ToEvent converts a booking into a calendar event
func ToEvent(b caleu.Booking) CalendarEvent {
	summary := b.Title
	if summary == "" {
		summary = DefaultSummary
	}

	return CalendarEvent{
		UID:         b.UID,
		Summary:     summary,
		Start:       b.Start,
		End:         b.End,
		Location:    b.Location,
		Description: Description(b),
	}
}

// Description builds the multi-line event description: status, attendees
// and meeting URL, each only when present.
func Description(b caleu.Booking) string {
	var parts []string

	if b.Status != "" {
		parts = append(parts, fmt.Sprintf("Status: %s", b.Status))
	}

	if len(b.Attendees) > 0 {
		attendees := make([]string, 0, len(b.Attendees))
		for _, a := range b.Attendees {
			name := a.Name
			if name == "" {
				name = "Unknown"
			}
			attendees = append(attendees, fmt.Sprintf("%s (%s)", name, a.Email))
		}
		parts = append(parts, "Attendees: "+strings.Join(attendees, ", "))
	}

	if b.MeetingURL != "" {
		parts = append(parts, "Meeting URL: "+b.MeetingURL)
	}

	return strings.Join(parts, "\n")
}

// Calendar exposes bookings as calendar events, optionally limited to a
// set of statuses
type Calendar struct {
	source   Source
	statuses []caleu.Status
}

// NewCalendar creates a calendar view. No statuses means all bookings.
func NewCalendar(source Source, statuses ...caleu.Status) *Calendar {
	return &Calendar{source: source, statuses: statuses}
}

// Event returns the next booking that has not ended yet
func (c *Calendar) Event() (CalendarEvent, bool) {
	b, ok := c.source.NextUpcoming(c.statuses...)
	if !ok {
		return CalendarEvent{}, false
	}
	return ToEvent(b), true
}

// Events returns the events overlapping [start, end], ordered by start
func (c *Calendar) Events(start, end time.Time) []CalendarEvent {
	matching := c.source.EventsInRange(start, end, c.statuses...)

	events := make([]CalendarEvent, 0, len(matching))
	for _, b := range matching {
		events = append(events, ToEvent(b))
	}
	return events
}

// All returns every event with both start and end, ordered by start
func (c *Calendar) All() []CalendarEvent {
	return c.Events(time.Unix(0, 0).UTC(), time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC))
}
