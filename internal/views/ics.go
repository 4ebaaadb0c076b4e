package views

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
)

// ProductID identifies the generator in exported calendars
const ProductID = "-//hacs-cal-eu//Cal.eu Bookings//EN"

// WriteICS encodes events as an iCalendar document. stamp is written as
// DTSTAMP on every event.
func WriteICS(w io.Writer, events []CalendarEvent, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	for _, e := range events {
		if e.Start.IsZero() || e.End.IsZero() {
			continue
		}

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, eventUID(e))
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		event.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, e.End.UTC())
		event.Props.SetText(ical.PropSummary, e.Summary)
		if e.Location != "" {
			event.Props.SetText(ical.PropLocation, e.Location)
		}
		if e.Description != "" {
			event.Props.SetText(ical.PropDescription, e.Description)
		}

		cal.Children = append(cal.Children, event.Component)
	}

	// The encoder refuses a calendar without components
	if len(cal.Children) == 0 {
		cal.Children = append(cal.Children, utcTimezone())
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func utcTimezone() *ical.Component {
	standard := ical.NewComponent(ical.CompTimezoneStandard)
	setRaw(standard.Props, ical.PropDateTimeStart, "19700101T000000")
	setRaw(standard.Props, ical.PropTimezoneOffsetFrom, "+0000")
	setRaw(standard.Props, ical.PropTimezoneOffsetTo, "+0000")

	tz := ical.NewComponent(ical.CompTimezone)
	tz.Props.SetText(ical.PropTimezoneID, "UTC")
	tz.Children = append(tz.Children, standard)
	return tz
}

func setRaw(props ical.Props, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	props.Set(prop)
}

// eventUID falls back to a start-derived UID when the booking has none
func eventUID(e CalendarEvent) string {
	if e.UID != "" {
		return e.UID
	}
	return fmt.Sprintf("%s@cal.eu", e.Start.UTC().Format("20060102T150405Z"))
}
