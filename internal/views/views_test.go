package views

import (
	"bytes"
	"testing"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/bookings"
	"github.com/rpliva/hacs-cal-eu/internal/caleu"
	"github.com/rpliva/hacs-cal-eu/internal/coordinator"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource answers queries over a fixed snapshot with a fixed now
type fakeSource struct {
	snap *coordinator.Snapshot
	now  time.Time
}

func (f *fakeSource) CurrentSnapshot() *coordinator.Snapshot { return f.snap }

func (f *fakeSource) list() []caleu.Booking {
	if f.snap == nil {
		return nil
	}
	return f.snap.Bookings
}

func (f *fakeSource) NextUpcoming(statuses ...caleu.Status) (caleu.Booking, bool) {
	return bookings.NextUpcoming(f.list(), f.now, statuses...)
}

func (f *fakeSource) EventsInRange(start, end time.Time, statuses ...caleu.Status) []caleu.Booking {
	return bookings.InRange(f.list(), start, end, statuses...)
}

func (f *fakeSource) Count(statuses ...caleu.Status) int {
	return bookings.Count(f.list(), statuses...)
}

func (f *fakeSource) Now() time.Time { return f.now }

func at(hour, minute int) time.Time {
	return time.Date(2024, 1, 1, hour, minute, 0, 0, time.UTC)
}

func fixture() *fakeSource {
	return &fakeSource{
		now: at(9, 35),
		snap: &coordinator.Snapshot{
			Bookings: []caleu.Booking{
				{
					ID: "2", UID: "ten", Title: "Design review",
					Start: at(10, 0), End: at(10, 30), Status: caleu.StatusPending,
					Attendees:  []caleu.Attendee{{Name: "Ada", Email: "ada@example.com"}, {Email: "anon@example.com"}},
					Location:   "Room 1",
					MeetingURL: "https://meet.example.com/ten",
				},
				{ID: "1", UID: "nine", Start: at(9, 0), End: at(9, 30), Status: caleu.StatusAccepted},
				{ID: "3", UID: "noon", Title: "Lunch", Start: at(12, 0), End: at(13, 0), Status: caleu.StatusAccepted},
			},
			Schedules: []caleu.Schedule{},
		},
	}
}

func TestDescription(t *testing.T) {
	b := fixture().snap.Bookings[0]
	assert.Equal(t,
		"Status: PENDING\nAttendees: Ada (ada@example.com), Unknown (anon@example.com)\nMeeting URL: https://meet.example.com/ten",
		Description(b))

	assert.Equal(t, "", Description(caleu.Booking{}))
	assert.Equal(t, "Status: ACCEPTED", Description(caleu.Booking{Status: caleu.StatusAccepted}))
}

func TestToEvent_DefaultSummary(t *testing.T) {
	event := ToEvent(caleu.Booking{UID: "x", Start: at(9, 0), End: at(10, 0)})
	assert.Equal(t, DefaultSummary, event.Summary)
	assert.Equal(t, "x", event.UID)
	assert.Empty(t, event.Description)
}

func TestCalendar_Event(t *testing.T) {
	src := fixture()
	cal := NewCalendar(src)

	event, ok := cal.Event()
	require.True(t, ok)
	assert.Equal(t, "ten", event.UID)
	assert.Equal(t, "Design review", event.Summary)
	assert.Equal(t, "Room 1", event.Location)

	accepted := NewCalendar(src, caleu.StatusAccepted)
	event, ok = accepted.Event()
	require.True(t, ok)
	assert.Equal(t, "noon", event.UID)

	src.snap = nil
	_, ok = cal.Event()
	assert.False(t, ok)
}

func TestCalendar_Events(t *testing.T) {
	cal := NewCalendar(fixture())

	events := cal.Events(at(8, 0), at(11, 0))
	require.Len(t, events, 2)
	assert.Equal(t, "nine", events[0].UID)
	assert.Equal(t, DefaultSummary, events[0].Summary)
	assert.Equal(t, "ten", events[1].UID)

	assert.Len(t, cal.All(), 3)
	assert.Empty(t, cal.Events(at(14, 0), at(15, 0)))
}

func TestWriteICS(t *testing.T) {
	cal := NewCalendar(fixture())
	stamp := at(9, 35)

	var buf bytes.Buffer
	require.NoError(t, WriteICS(&buf, cal.All(), stamp))

	decoded, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)

	version, err := decoded.Props.Text(ical.PropVersion)
	require.NoError(t, err)
	assert.Equal(t, "2.0", version)

	events := decoded.Events()
	require.Len(t, events, 3)

	uid, err := events[1].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, "ten", uid)

	summary, err := events[1].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Design review", summary)

	description, err := events[1].Props.Text(ical.PropDescription)
	require.NoError(t, err)
	assert.Contains(t, description, "Meeting URL: https://meet.example.com/ten")

	start, err := events[1].DateTimeStart(time.UTC)
	require.NoError(t, err)
	assert.True(t, start.Equal(at(10, 0)))

	end, err := events[1].DateTimeEnd(time.UTC)
	require.NoError(t, err)
	assert.True(t, end.Equal(at(10, 30)))
}

func TestWriteICS_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteICS(&buf, nil, at(9, 0)))
	assert.Contains(t, buf.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, buf.String(), "PRODID:"+ProductID)
	assert.NotContains(t, buf.String(), "BEGIN:VEVENT")

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	assert.Empty(t, cal.Events())
}

func TestWriteICS_SkipsUntimedEvents(t *testing.T) {
	var buf bytes.Buffer
	events := []CalendarEvent{{UID: "x", Summary: "No times"}}
	require.NoError(t, WriteICS(&buf, events, at(9, 0)))
	assert.Contains(t, buf.String(), "BEGIN:VCALENDAR")
	assert.NotContains(t, buf.String(), "BEGIN:VEVENT")
}

func sensorByKey(t *testing.T, sensors []Sensor, key string) Sensor {
	t.Helper()
	for _, s := range sensors {
		if s.Key == key {
			return s
		}
	}
	t.Fatalf("sensor %s not found", key)
	return Sensor{}
}

func TestSensors(t *testing.T) {
	sensors := Sensors(fixture())
	require.Len(t, sensors, 3)

	all := sensorByKey(t, sensors, SensorBookings)
	assert.Equal(t, 3, all.State)
	list := all.Attributes["bookings"].([]BookingAttributes)
	require.Len(t, list, 3)
	assert.Equal(t, caleu.StatusPending, list[0].Status)
	assert.Equal(t, "https://meet.example.com/ten", list[0].MeetingURL)
	assert.NotNil(t, list[1].Attendees)

	next := sensorByKey(t, sensors, SensorNextBooking)
	assert.Equal(t, at(10, 0), next.State)
	assert.Equal(t, "timestamp", next.DeviceClass)
	assert.Equal(t, "Design review", next.Attributes["title"])
	assert.Equal(t, "https://meet.example.com/ten", next.Attributes["meeting_url"])

	unconfirmed := sensorByKey(t, sensors, SensorUnconfirmedBookings)
	assert.Equal(t, 1, unconfirmed.State)
	pending := unconfirmed.Attributes["bookings"].([]BookingAttributes)
	require.Len(t, pending, 1)
	assert.Equal(t, "ten", pending[0].UID)
	assert.Empty(t, pending[0].Status)
}

func TestNextBookingSensor_SkipsEndedBookings(t *testing.T) {
	src := fixture()

	// nine started earliest but ended at 09:30
	next := sensorByKey(t, Sensors(src), SensorNextBooking)
	assert.Equal(t, at(10, 0), next.State)

	src.now = at(13, 0)
	next = sensorByKey(t, Sensors(src), SensorNextBooking)
	assert.Nil(t, next.State)
	assert.Empty(t, next.Attributes)
}

func TestSensors_NoSnapshot(t *testing.T) {
	sensors := Sensors(&fakeSource{now: at(9, 0)})

	assert.Equal(t, 0, sensorByKey(t, sensors, SensorBookings).State)
	assert.Equal(t, []BookingAttributes{}, sensorByKey(t, sensors, SensorBookings).Attributes["bookings"])

	next := sensorByKey(t, sensors, SensorNextBooking)
	assert.Nil(t, next.State)
	assert.Empty(t, next.Attributes)

	assert.Equal(t, 0, sensorByKey(t, sensors, SensorUnconfirmedBookings).State)
}
