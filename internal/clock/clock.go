// Package clock abstracts timers so that retry backoff and deferred
// notification removal can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending callback that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers and reports the current time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type systemScheduler struct{}

// System returns a Scheduler backed by the time package.
func System() Scheduler {
	return systemScheduler{}
}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemScheduler) Now() time.Time {
	return time.Now()
}

// Manual is a Scheduler whose timers only fire when Advance moves time past
// their deadline.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	owner   *Manual
	at      time.Time
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

// NewManual creates a Manual scheduler starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// AfterFunc arms a timer that fires once the clock has advanced by d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTimer{owner: m, at: m.now.Add(d), delay: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Now returns the scheduler's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward and runs every timer that became due, in
// deadline order. Callbacks run on the caller's goroutine.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired && !t.at.After(m.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the original delays of all timers that are still armed.
func (m *Manual) Pending() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var delays []time.Duration
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			delays = append(delays, t.delay)
		}
	}
	return delays
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
