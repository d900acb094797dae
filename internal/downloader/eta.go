package downloader

import "time"

type sample struct {
	at    time.Time
	value float64
}

// Estimator smooths throughput over a sliding time window. Values are
// cumulative (bytes loaded, segments fetched); rates are per millisecond.
type Estimator struct {
	window  time.Duration
	samples []sample
	first   *sample
}

// NewEstimator creates an Estimator keeping samples no older than window
// relative to the newest one.
func NewEstimator(window time.Duration) *Estimator {
	return &Estimator{window: window}
}

// Add records the cumulative value at the given instant and prunes samples
// that fell out of the window.
func (e *Estimator) Add(at time.Time, value float64) {
	s := sample{at: at, value: value}
	if e.first == nil {
		first := s
		e.first = &first
	}
	e.samples = append(e.samples, s)

	cutoff := at.Add(-e.window)
	keep := 0
	for keep < len(e.samples)-1 && e.samples[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		e.samples = append(e.samples[:0], e.samples[keep:]...)
	}
}

// Rate returns units per millisecond across the window, falling back to the
// all-time average when the window holds fewer than two samples.
func (e *Estimator) Rate() float64 {
	if len(e.samples) >= 2 {
		oldest, newest := e.samples[0], e.samples[len(e.samples)-1]
		if ms := msBetween(oldest.at, newest.at); ms > 0 {
			return (newest.value - oldest.value) / ms
		}
	}
	if e.first == nil || len(e.samples) == 0 {
		return 0
	}
	newest := e.samples[len(e.samples)-1]
	if ms := msBetween(e.first.at, newest.at); ms > 0 {
		return (newest.value - e.first.value) / ms
	}
	return 0
}

// ETA returns the estimated time to reach total, or false when no estimate
// is possible yet.
func (e *Estimator) ETA(total float64) (time.Duration, bool) {
	rate := e.Rate()
	if rate <= 0 || total <= 0 || len(e.samples) == 0 {
		return 0, false
	}
	remaining := total - e.samples[len(e.samples)-1].value
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining / rate * float64(time.Millisecond)), true
}

func msBetween(a, b time.Time) float64 {
	return float64(b.Sub(a)) / float64(time.Millisecond)
}

// throttle admits at most one event per interval; forced events always pass.
type throttle struct {
	interval time.Duration
	last     time.Time
	fired    bool
}

func (t *throttle) allow(now time.Time, force bool) bool {
	if force || !t.fired || now.Sub(t.last) >= t.interval {
		t.last = now
		t.fired = true
		return true
	}
	return false
}
