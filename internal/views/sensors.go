package views

import (
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/bookings"
	"github.com/rpliva/hacs-cal-eu/internal/caleu"
)

// Sensor is a single computed value with attributes
type Sensor struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Icon        string                 `json:"icon"`
	DeviceClass string                 `json:"device_class,omitempty"`
	State       interface{}            `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
}

// BookingAttributes is the attribute form of a booking
type BookingAttributes struct {
	ID         caleu.ID         `json:"id"`
	UID        string           `json:"uid"`
	Title      string           `json:"title"`
	Start      *time.Time       `json:"start"`
	End        *time.Time       `json:"end"`
	Status     caleu.Status     `json:"status,omitempty"`
	Attendees  []caleu.Attendee `json:"attendees"`
	Location   string           `json:"location,omitempty"`
	MeetingURL string           `json:"meeting_url,omitempty"`
}

// SensorDescription describes how one sensor derives its value
type SensorDescription struct {
	Key         string
	Name        string
	Icon        string
	DeviceClass string
	Value       func(src Source) (interface{}, map[string]interface{})
}

// Sensor keys
const (
	SensorBookings            = "bookings"
	SensorNextBooking         = "next_booking"
	SensorUnconfirmedBookings = "unconfirmed_bookings"
)

// SensorDescriptions lists every sensor in display order
var SensorDescriptions = []SensorDescription{
	{
		Key:   SensorBookings,
		Name:  "Bookings",
		Icon:  "mdi:calendar",
		Value: bookingsValue,
	},
	{
		Key:         SensorNextBooking,
		Name:        "Next booking",
		Icon:        "mdi:calendar-clock",
		DeviceClass: "timestamp",
		Value:       nextBookingValue,
	},
	{
		Key:   SensorUnconfirmedBookings,
		Name:  "Unconfirmed bookings",
		Icon:  "mdi:calendar-question",
		Value: unconfirmedValue,
	},
}

// Sensors evaluates every sensor against the current snapshot
func Sensors(src Source) []Sensor {
	sensors := make([]Sensor, 0, len(SensorDescriptions))
	for _, desc := range SensorDescriptions {
		sensors = append(sensors, desc.Evaluate(src))
	}
	return sensors
}

// Evaluate computes the sensor state
func (d SensorDescription) Evaluate(src Source) Sensor {
	state, attrs := d.Value(src)
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return Sensor{
		Key:         d.Key,
		Name:        d.Name,
		Icon:        d.Icon,
		DeviceClass: d.DeviceClass,
		State:       state,
		Attributes:  attrs,
	}
}

func snapshotBookings(src Source) []caleu.Booking {
	snap := src.CurrentSnapshot()
	if snap == nil {
		return nil
	}
	return snap.Bookings
}

func bookingsValue(src Source) (interface{}, map[string]interface{}) {
	return src.Count(), map[string]interface{}{
		"bookings": toAttributes(snapshotBookings(src), true),
	}
}

func unconfirmedValue(src Source) (interface{}, map[string]interface{}) {
	pending := bookings.Filter(snapshotBookings(src), caleu.StatusPending)
	return len(pending), map[string]interface{}{
		"bookings": toAttributes(pending, false),
	}
}

func nextBookingValue(src Source) (interface{}, map[string]interface{}) {
	next, ok := src.NextUpcoming()
	if !ok || next.Start.IsZero() {
		return nil, nil
	}

	attrs := map[string]interface{}{
		"title":       next.Title,
		"end":         optionalTime(next.End),
		"location":    next.Location,
		"meeting_url": next.MeetingURL,
	}
	return next.Start, attrs
}

func toAttributes(list []caleu.Booking, withStatus bool) []BookingAttributes {
	result := make([]BookingAttributes, 0, len(list))
	for _, b := range list {
		attrs := BookingAttributes{
			ID:         b.ID,
			UID:        b.UID,
			Title:      b.Title,
			Start:      optionalTime(b.Start),
			End:        optionalTime(b.End),
			Attendees:  b.Attendees,
			Location:   b.Location,
			MeetingURL: b.MeetingURL,
		}
		if attrs.Attendees == nil {
			attrs.Attendees = []caleu.Attendee{}
		}
		if withStatus {
			attrs.Status = b.Status
		}
		result = append(result, attrs)
	}
	return result
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
