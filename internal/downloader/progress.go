package downloader

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opd-ai/go-strata/internal/state"
)

// progress turns samples into debounced progress notifications.
type progress struct {
	engine   *Engine
	id       string
	name     string
	segments bool

	estimator *Estimator
	throttle  throttle
}

func (e *Engine) newProgress(id, name string, segments bool) *progress {
	p := &progress{
		engine:    e,
		id:        id,
		name:      name,
		segments:  segments,
		estimator: NewEstimator(e.cfg.ETAWindow),
		throttle:  throttle{interval: e.cfg.ProgressInterval},
	}
	p.estimator.Add(e.now(), 0)
	e.notifier.Notify(state.Notification{
		ID:       NotificationID(id),
		Message:  fmt.Sprintf("Preparing download of %s", name),
		Type:     state.NotifyLoading,
		Progress: state.Ptr(0.0),
		Action:   e.cancelAction(id),
	})
	return p
}

// rename updates the name shown in later notifications.
func (p *progress) rename(name string) {
	p.name = name
}

// update records the cumulative amount loaded. total is negative when
// unknown. first and last samples always notify.
func (p *progress) update(loaded, total int64, final bool) {
	now := p.engine.now()
	p.estimator.Add(now, float64(loaded))
	if !p.throttle.allow(now, final) {
		return
	}

	var percent *float64
	if total > 0 {
		percent = state.Ptr(float64(loaded) / float64(total) * 100)
	}

	p.engine.notifier.Notify(state.Notification{
		ID:       NotificationID(p.id),
		Message:  p.message(loaded, total),
		Type:     state.NotifyLoading,
		Progress: percent,
		Action:   p.engine.cancelAction(p.id),
	})
}

func (p *progress) message(loaded, total int64) string {
	eta, haveETA := p.estimator.ETA(float64(total))
	remaining := ""
	if haveETA {
		remaining = fmt.Sprintf(", %s left", formatETA(eta))
	}

	if p.segments {
		return fmt.Sprintf("Downloading %s: segment %d of %d%s", p.name, loaded, total, remaining)
	}

	speed := humanize.Bytes(uint64(p.estimator.Rate()*1000)) + "/s"
	if total > 0 {
		return fmt.Sprintf("Downloading %s: %s of %s (%s%s)",
			p.name, humanize.Bytes(uint64(loaded)), humanize.Bytes(uint64(total)), speed, remaining)
	}
	return fmt.Sprintf("Downloading %s: %s (%s)", p.name, humanize.Bytes(uint64(loaded)), speed)
}

func formatETA(d time.Duration) string {
	if d < time.Second {
		return "less than a second"
	}
	return d.Round(time.Second).String()
}
