// Package retry implements the playback recovery state machine: fatal media
// errors schedule a reload with exponential backoff until the retry budget is
// spent, after which the session is marked as failed.
package retry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opd-ai/go-strata/internal/clock"
	"github.com/opd-ai/go-strata/internal/events"
	"github.com/opd-ai/go-strata/internal/metrics"
	"github.com/opd-ai/go-strata/internal/state"
)

// NotificationID is the ID of the progress notification shown while a reload
// is pending.
const NotificationID = "retry"

// Phase is the controller's position in the recovery state machine.
type Phase int

const (
	// Idle means no recovery is in progress.
	Idle Phase = iota
	// Backoff means a reload timer is armed.
	Backoff
	// Reloading means the timer fired and the reload callback was invoked.
	Reloading
	// Failed means the retry budget was exhausted. Only Reset leaves it.
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Backoff:
		return "backoff"
	case Reloading:
		return "reloading"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config bounds the retry streak.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Controller drives the recovery state machine. At most one reload timer is
// armed at any time.
type Controller struct {
	cfg       Config
	store     *state.Store
	notifier  *state.Notifier
	bus       *events.Bus
	scheduler clock.Scheduler
	reload    func()
	logger    *slog.Logger

	mu         sync.Mutex
	count      int
	phase      Phase
	timer      clock.Timer
	generation uint64
}

// New creates a Controller. reload is invoked on the scheduler's goroutine
// when a backoff timer fires.
func New(cfg Config, store *state.Store, notifier *state.Notifier, bus *events.Bus,
	scheduler clock.Scheduler, reload func(), logger *slog.Logger) *Controller {
	if scheduler == nil {
		scheduler = clock.System()
	}
	return &Controller{
		cfg:       cfg,
		store:     store,
		notifier:  notifier,
		bus:       bus,
		scheduler: scheduler,
		reload:    reload,
		logger:    logger,
	}
}

// Delay returns the backoff before reload attempt n (1-based):
// BaseDelay * 2^(n-1).
func (c *Controller) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return c.cfg.BaseDelay * time.Duration(int64(1)<<(n-1))
}

// Fail records a fatal media error. While retries remain it arms a reload
// timer, replacing any pending one; otherwise it marks the session failed,
// sets state.Error, flags the current source and publishes an error event.
func (c *Controller) Fail(message string) {
	c.mu.Lock()
	if c.phase == Failed {
		c.mu.Unlock()
		c.logger.Debug("Ignoring playback error after terminal failure", "error", message)
		return
	}

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++

	if c.count < c.cfg.MaxRetries {
		c.count++
		attempt := c.count
		delay := c.Delay(attempt)
		gen := c.generation
		c.phase = Backoff
		c.timer = c.scheduler.AfterFunc(delay, func() { c.fire(gen) })
		c.mu.Unlock()

		metrics.PlaybackRetriesTotal.Inc()
		c.logger.Warn("Playback error, scheduling reload",
			"error", message,
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
			"delay", delay)

		c.notifier.Notify(state.Notification{
			ID: NotificationID,
			Message: fmt.Sprintf("Playback interrupted, retrying in %.1fs (attempt %d of %d)",
				delay.Seconds(), attempt, c.cfg.MaxRetries),
			Type: state.NotifyLoading,
		})
		return
	}

	c.phase = Failed
	attempts := c.count
	c.mu.Unlock()

	c.terminate(message, attempts)
}

func (c *Controller) terminate(message string, attempts int) {
	metrics.PlaybackFailuresTotal.Inc()
	c.logger.Error("Playback failed, retries exhausted", "error", message, "attempts", attempts)

	c.notifier.Dismiss(NotificationID)

	final := fmt.Sprintf("Playback failed after %d attempts: %s", attempts, message)
	c.store.Update(func(prev state.State) state.Partial {
		statuses := make(map[int]state.SourceStatus, len(prev.SourceStatuses)+1)
		for k, v := range prev.SourceStatuses {
			statuses[k] = v
		}
		if prev.CurrentSourceIndex >= 0 {
			statuses[prev.CurrentSourceIndex] = state.SourceError
		}
		return state.Partial{Error: &final, SourceStatuses: &statuses}
	})

	c.bus.Publish(events.EventError, final)
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.phase = Reloading
	attempt := c.count
	c.mu.Unlock()

	c.logger.Info("Reloading media source", "attempt", attempt)
	if c.reload != nil {
		c.reload()
	}
}

// Reset ends a retry streak: the count returns to zero, any pending timer is
// stopped and the retry notification is cleared.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
	streak := c.count
	c.count = 0
	c.phase = Idle
	c.mu.Unlock()

	if streak > 0 {
		c.logger.Debug("Retry streak reset", "attempts", streak)
	}
	c.notifier.Dismiss(NotificationID)
}

// Cancel stops a pending reload timer without touching the retry count.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
	if c.phase == Backoff {
		c.phase = Idle
	}
}

// Count returns the number of reloads scheduled in the current streak.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}
