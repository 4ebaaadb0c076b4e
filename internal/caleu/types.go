package caleu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the booking status reported by the API (upper case).
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusPending  Status = "PENDING"
)

// ID is an opaque identifier that the API sends either as a number or a string
type ID string

// UnmarshalJSON accepts both JSON numbers and strings
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*id = ID(n.String())
	return nil
}

// Attendee is a person attached to a booking
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Booking is a single scheduled meeting. Identity is UID; a later poll may
// return a different record with the same UID, which replaces it wholesale.
// Start and End are UTC and zero when the API omitted them.
type Booking struct {
	ID         ID         `json:"id"`
	UID        string     `json:"uid"`
	Title      string     `json:"title"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Status     Status     `json:"status"`
	Attendees  []Attendee `json:"attendees"`
	Location   string     `json:"location,omitempty"`
	MeetingURL string     `json:"meeting_url,omitempty"`
}

// HasTimes reports whether both Start and End were present
func (b Booking) HasTimes() bool {
	return !b.Start.IsZero() && !b.End.IsZero()
}

// TimeRange is a contiguous availability interval
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DateOverride is an explicit availability exception with concrete ranges
type DateOverride struct {
	Ranges []TimeRange `json:"ranges"`
}

// Schedule is a named availability schedule
type Schedule struct {
	ID            ID             `json:"id"`
	Name          string         `json:"name"`
	DateOverrides []DateOverride `json:"date_overrides"`
}

// Wire formats. Field names follow the v2 API (startTime/endTime on bookings).

type bookingsEnvelope struct {
	Data struct {
		Bookings []bookingJSON `json:"bookings"`
	} `json:"data"`
}

type bookingJSON struct {
	ID         ID         `json:"id"`
	UID        string     `json:"uid"`
	Title      string     `json:"title"`
	StartTime  string     `json:"startTime"`
	EndTime    string     `json:"endTime"`
	Status     string     `json:"status"`
	Attendees  []Attendee `json:"attendees"`
	Location   *string    `json:"location"`
	MeetingURL *string    `json:"meetingUrl"`
}

type schedulesEnvelope struct {
	Data []scheduleJSON `json:"data"`
}

type scheduleJSON struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	DateOverrides []struct {
		Ranges []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"ranges"`
	} `json:"dateOverrides"`
}

// timestampLayouts are tried in order. Layouts without a zone are
// interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp and normalizes it to UTC.
// A value without zone information is taken to be UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", value)
}
