// Package coordinator polls the cal.eu API on a fixed interval, detects
// newly appeared bookings and publishes each successful result as an
// immutable snapshot for read-only consumers.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/bookings"
	"github.com/rpliva/hacs-cal-eu/internal/caleu"
	"github.com/rpliva/hacs-cal-eu/internal/clock"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// DefaultPollInterval matches the integration's scan interval
const DefaultPollInterval = 300 * time.Second

// Coordinator owns the latest snapshot and the set of already-seen booking UIDs
type Coordinator struct {
	fetcher  Fetcher
	clock    clock.Clock
	logger   *zap.Logger
	interval time.Duration

	snapshot atomic.Pointer[Snapshot]

	// pollMu serializes polls and guards knownUIDs and seeded
	pollMu    sync.Mutex
	knownUIDs map[string]struct{}
	seeded    bool

	subsMu      sync.RWMutex
	subscribers []subscriberEntry
	nextSubID   int

	// Poll loop
	loopMu   sync.Mutex
	running  bool
	timer    clock.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	statusMu sync.RWMutex
	status   Status
}

// New creates a coordinator. A non-positive interval selects DefaultPollInterval.
func New(fetcher Fetcher, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}

	return &Coordinator{
		fetcher:   fetcher,
		clock:     clk,
		logger:    logger.Named("coordinator"),
		interval:  interval,
		knownUIDs: make(map[string]struct{}),
		status: Status{
			State:        StateStopped,
			PollInterval: interval.String(),
		},
	}
}

// Interval returns the fixed poll interval
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Poll fetches bookings and schedules, notifies subscribers about new
// bookings and publishes a new snapshot. On error the previous snapshot and
// the known UIDs are left untouched and the error is an
// *caleu.AuthenticationError or *caleu.FetchError.
func (c *Coordinator) Poll(ctx context.Context) (*Snapshot, error) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	return c.pollLocked(ctx)
}

func (c *Coordinator) pollLocked(ctx context.Context) (*Snapshot, error) {
	started := c.clock.Now()
	c.setState(StatePolling)

	snap, degraded, err := c.fetch(ctx)
	elapsed := c.clock.Since(started)
	if err != nil {
		c.recordFailure(started, elapsed, err)
		c.logger.Warn("Poll failed",
			zap.Error(err),
			zap.Bool("auth_error", caleu.IsAuthenticationError(err)),
			zap.Duration("elapsed", elapsed))
		return nil, err
	}

	events := c.detectNewBookings(snap)
	c.snapshot.Store(snap)
	c.recordSuccess(snap, started, elapsed, degraded)

	c.logger.Debug("Poll complete",
		zap.Int("bookings", len(snap.Bookings)),
		zap.Int("schedules", len(snap.Schedules)),
		zap.Int("new_bookings", len(events)),
		zap.Duration("elapsed", elapsed))

	c.notify(events)
	return snap, nil
}

// fetch issues both requests concurrently and assembles a snapshot.
// Schedules failures other than 401 degrade to an empty list.
func (c *Coordinator) fetch(ctx context.Context) (*Snapshot, bool, error) {
	var (
		fetchedBookings  []caleu.Booking
		bookingsErr      error
		fetchedSchedules []caleu.Schedule
		schedulesErr     error
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		fetchedBookings, bookingsErr = c.fetcher.FetchBookings(ctx)
	})
	wg.Go(func() {
		fetchedSchedules, schedulesErr = c.fetcher.FetchSchedules(ctx)
	})
	if recovered := wg.WaitAndRecover(); recovered != nil {
		return nil, false, &caleu.FetchError{
			Endpoint: "poll",
			Err:      fmt.Errorf("fetcher panicked: %w", recovered.AsError()),
		}
	}

	switch {
	case caleu.IsAuthenticationError(bookingsErr):
		return nil, false, bookingsErr
	case caleu.IsAuthenticationError(schedulesErr):
		return nil, false, schedulesErr
	case bookingsErr != nil:
		return nil, false, normalizeError(caleu.BookingsEndpoint, bookingsErr)
	}

	// A cancelled caller aborts the poll even if both requests returned.
	if err := ctx.Err(); err != nil {
		return nil, false, &caleu.FetchError{Endpoint: caleu.BookingsEndpoint, Err: err}
	}

	degraded := false
	if schedulesErr != nil {
		degraded = true
		fetchedSchedules = nil
		c.logger.Warn("Error fetching schedules, continuing without them", zap.Error(schedulesErr))
	}

	if fetchedBookings == nil {
		fetchedBookings = []caleu.Booking{}
	}
	if fetchedSchedules == nil {
		fetchedSchedules = []caleu.Schedule{}
	}

	return &Snapshot{
		Bookings:  fetchedBookings,
		Schedules: fetchedSchedules,
		FetchedAt: c.clock.Now().UTC(),
	}, degraded, nil
}

// normalizeError maps anything a Fetcher returns onto the two error kinds
func normalizeError(endpoint string, err error) error {
	if caleu.IsAuthenticationError(err) || caleu.IsFetchError(err) {
		return err
	}
	return &caleu.FetchError{Endpoint: endpoint, Err: err}
}

// detectNewBookings diffs snap against the known UIDs and replaces them.
// The first successful poll only seeds the set.
func (c *Coordinator) detectNewBookings(snap *Snapshot) []NewBookingEvent {
	current := make(map[string]struct{}, len(snap.Bookings))
	var events []NewBookingEvent

	for _, b := range snap.Bookings {
		if b.UID == "" {
			continue
		}
		if _, dup := current[b.UID]; dup {
			continue
		}
		current[b.UID] = struct{}{}

		if !c.seeded {
			continue
		}
		if _, known := c.knownUIDs[b.UID]; known {
			continue
		}
		events = append(events, newBookingEvent(b, snap.FetchedAt))
	}

	if !c.seeded {
		c.logger.Info("Seeded known bookings", zap.Int("count", len(current)))
	}

	c.knownUIDs = current
	c.seeded = true
	return events
}

func newBookingEvent(b caleu.Booking, detectedAt time.Time) NewBookingEvent {
	attendees := make([]caleu.Attendee, len(b.Attendees))
	copy(attendees, b.Attendees)

	return NewBookingEvent{
		ID:         uuid.NewString(),
		UID:        b.UID,
		Title:      b.Title,
		Start:      optionalTime(b.Start),
		End:        optionalTime(b.End),
		Status:     b.Status,
		Attendees:  attendees,
		Location:   b.Location,
		MeetingURL: b.MeetingURL,
		DetectedAt: detectedAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Subscribe registers a handler for new-booking notifications
func (c *Coordinator) Subscribe(handler NewBookingHandler) Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.nextSubID++
	c.subscribers = append(c.subscribers, subscriberEntry{id: c.nextSubID, handler: handler})
	return &subscription{id: c.nextSubID, coordinator: c}
}

func (c *Coordinator) unsubscribe(id int) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for i, entry := range c.subscribers {
		if entry.id == id {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// notify calls every handler for every event, in fetched order
func (c *Coordinator) notify(events []NewBookingEvent) {
	if len(events) == 0 {
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers...)
	c.subsMu.RUnlock()

	for _, event := range events {
		c.logger.Info("New booking detected",
			zap.String("uid", event.UID),
			zap.String("title", event.Title),
			zap.Timep("start", event.Start))

		for _, entry := range entries {
			c.dispatch(entry, event)
		}
	}
}

// dispatch isolates the poll path from a misbehaving handler
func (c *Coordinator) dispatch(entry subscriberEntry, event NewBookingEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("New booking handler panicked",
				zap.Int("subscription", entry.id),
				zap.String("uid", event.UID),
				zap.Any("panic", r))
		}
	}()
	entry.handler(event)
}

// CurrentSnapshot returns the latest published snapshot, or nil before the
// first successful poll
func (c *Coordinator) CurrentSnapshot() *Snapshot {
	return c.snapshot.Load()
}

// NextUpcoming returns the earliest-starting booking that has not ended yet
func (c *Coordinator) NextUpcoming(statuses ...caleu.Status) (caleu.Booking, bool) {
	snap := c.CurrentSnapshot()
	if snap == nil {
		return caleu.Booking{}, false
	}
	return bookings.NextUpcoming(snap.Bookings, c.clock.Now(), statuses...)
}

// EventsInRange returns bookings overlapping [start, end], ordered by start
func (c *Coordinator) EventsInRange(start, end time.Time, statuses ...caleu.Status) []caleu.Booking {
	snap := c.CurrentSnapshot()
	if snap == nil {
		return []caleu.Booking{}
	}
	return bookings.InRange(snap.Bookings, start, end, statuses...)
}

// AvailabilitySlots flattens the date-override ranges of every schedule
func (c *Coordinator) AvailabilitySlots() []bookings.Slot {
	snap := c.CurrentSnapshot()
	if snap == nil {
		return []bookings.Slot{}
	}
	return bookings.Slots(snap.Schedules)
}

// Count returns the number of bookings matching the status filter
func (c *Coordinator) Count(statuses ...caleu.Status) int {
	snap := c.CurrentSnapshot()
	if snap == nil {
		return 0
	}
	return bookings.Count(snap.Bookings, statuses...)
}

// Now returns the coordinator clock's current time
func (c *Coordinator) Now() time.Time {
	return c.clock.Now()
}
