package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/caleu"

	"go.uber.org/zap"
)

// Start begins polling every interval. The first tick fires one interval
// from now; callers wanting data immediately call Poll first.
func (c *Coordinator) Start() error {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.running {
		return fmt.Errorf("coordinator already running")
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.running = true
	c.scheduleLocked()

	c.statusMu.Lock()
	c.status.Running = true
	c.status.State = StateIdle
	c.statusMu.Unlock()

	c.logger.Info("Started polling", zap.Duration("interval", c.interval))
	return nil
}

// Stop halts the loop, cancels an in-flight scheduled poll and waits for it
// to return. Stop is a no-op when the loop is not running.
func (c *Coordinator) Stop() {
	c.loopMu.Lock()
	if !c.running {
		c.loopMu.Unlock()
		return
	}
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancel()
	c.loopMu.Unlock()

	c.inflight.Wait()

	c.statusMu.Lock()
	c.status.Running = false
	c.status.State = StateStopped
	c.status.NextPollAt = time.Time{}
	c.statusMu.Unlock()

	c.logger.Info("Stopped polling")
}

// RefreshNow polls immediately and, when the loop is running, restarts the
// interval from now so the next scheduled tick does not follow right behind.
func (c *Coordinator) RefreshNow(ctx context.Context) (*Snapshot, error) {
	snap, err := c.Poll(ctx)

	c.loopMu.Lock()
	if c.running && c.timer != nil && c.timer.Stop() {
		c.scheduleLocked()
	}
	c.loopMu.Unlock()

	return snap, err
}

// scheduleLocked arms the next tick. Requires loopMu.
func (c *Coordinator) scheduleLocked() {
	c.timer = c.clock.AfterFunc(c.interval, c.tick)

	c.statusMu.Lock()
	c.status.NextPollAt = c.clock.Now().Add(c.interval)
	c.statusMu.Unlock()
}

// tick runs one scheduled poll and re-arms the timer
func (c *Coordinator) tick() {
	c.loopMu.Lock()
	if !c.running {
		c.loopMu.Unlock()
		return
	}
	ctx := c.ctx
	c.inflight.Add(1)
	c.loopMu.Unlock()

	c.runScheduledPoll(ctx)
	c.inflight.Done()

	c.loopMu.Lock()
	if c.running {
		c.scheduleLocked()
	}
	c.loopMu.Unlock()
}

// runScheduledPoll skips the tick when another poll still holds the lock
func (c *Coordinator) runScheduledPoll(ctx context.Context) {
	if !c.pollMu.TryLock() {
		c.logger.Debug("Skipping tick, previous poll still running")
		return
	}
	defer c.pollMu.Unlock()

	if _, err := c.pollLocked(ctx); err != nil && caleu.IsAuthenticationError(err) {
		c.logger.Error("cal.eu rejected the API key; check the configuration", zap.Error(err))
	}
}

// Status returns a copy of the loop status
func (c *Coordinator) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Coordinator) setState(state string) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.State = state
}

// idleStateLocked is the state to fall back to after a poll. Requires statusMu.
func (c *Coordinator) idleStateLocked() string {
	if c.status.Running {
		return StateIdle
	}
	return StateStopped
}

func (c *Coordinator) recordSuccess(snap *Snapshot, started time.Time, elapsed time.Duration, degraded bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	c.status.State = c.idleStateLocked()
	c.status.LastPollAt = started
	c.status.LastPollMs = elapsed.Milliseconds()
	c.status.LastSuccessAt = snap.FetchedAt
	c.status.ConsecutiveFailures = 0
	c.status.LastError = ""
	c.status.AuthFailed = false
	c.status.SchedulesDegraded = degraded
	c.status.Bookings = len(snap.Bookings)
	c.status.Schedules = len(snap.Schedules)
	c.status.KnownUIDs = len(c.knownUIDs)
}

func (c *Coordinator) recordFailure(started time.Time, elapsed time.Duration, err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	c.status.State = c.idleStateLocked()
	c.status.LastPollAt = started
	c.status.LastPollMs = elapsed.Milliseconds()
	c.status.ConsecutiveFailures++
	c.status.LastError = err.Error()
	c.status.AuthFailed = caleu.IsAuthenticationError(err)
}
