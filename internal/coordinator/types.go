package coordinator

import (
	"context"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/caleu"
)

// EventNewBooking is the event type carried by new-booking notifications
const EventNewBooking = "cal_eu_new_booking"

// Fetcher is the upstream API the coordinator polls. *caleu.Client satisfies it.
type Fetcher interface {
	FetchBookings(ctx context.Context) ([]caleu.Booking, error)
	FetchSchedules(ctx context.Context) ([]caleu.Schedule, error)
}

// Snapshot is the immutable result of one successful poll. Readers must not
// modify the slices.
type Snapshot struct {
	Bookings  []caleu.Booking  `json:"bookings"`
	Schedules []caleu.Schedule `json:"schedules"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// NewBookingEvent is emitted once per newly detected booking UID
type NewBookingEvent struct {
	// ID uniquely identifies this notification
	ID         string           `json:"id"`
	UID        string           `json:"uid"`
	Title      string           `json:"title"`
	// Start and End are nil when the booking carries no time
	Start      *time.Time       `json:"start"`
	End        *time.Time       `json:"end"`
	Status     caleu.Status     `json:"status"`
	Attendees  []caleu.Attendee `json:"attendees"`
	Location   string           `json:"location,omitempty"`
	MeetingURL string           `json:"meeting_url,omitempty"`
	DetectedAt time.Time        `json:"detected_at"`
}

// NewBookingHandler is called synchronously for each new booking
type NewBookingHandler func(event NewBookingEvent)

// Subscription represents an active new-booking subscription
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id          int
	coordinator *Coordinator
}

func (s *subscription) Unsubscribe() {
	s.coordinator.unsubscribe(s.id)
}

type subscriberEntry struct {
	id      int
	handler NewBookingHandler
}

// Loop states reported by Status
const (
	StateIdle    = "idle"
	StatePolling = "polling"
	StateStopped = "stopped"
)

// Status describes the poll loop and the outcome of the last poll
type Status struct {
	Running             bool      `json:"running"`
	State               string    `json:"state"`
	PollInterval        string    `json:"poll_interval"`
	LastPollAt          time.Time `json:"last_poll_at,omitempty"`
	LastPollMs          int64     `json:"last_poll_ms"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	NextPollAt          time.Time `json:"next_poll_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	AuthFailed          bool      `json:"auth_failed"`
	SchedulesDegraded   bool      `json:"schedules_degraded"`
	Bookings            int       `json:"bookings"`
	Schedules           int       `json:"schedules"`
	KnownUIDs           int       `json:"known_uids"`
}
