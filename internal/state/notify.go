package state

import (
	"sync"

	"github.com/google/uuid"

	"github.com/opd-ai/go-strata/internal/clock"
)

// Notifier adds and removes notifications on a Store. A notification whose ID
// matches an existing entry replaces it in place, which is how progress
// notifications are updated. Notifications with a Duration are removed after
// it elapses; a later Notify or Dismiss for the same ID cancels that removal.
type Notifier struct {
	store     *Store
	scheduler clock.Scheduler

	mu     sync.Mutex
	timers map[string]clock.Timer
}

// NewNotifier creates a Notifier writing to store.
func NewNotifier(store *Store, scheduler clock.Scheduler) *Notifier {
	if scheduler == nil {
		scheduler = clock.System()
	}
	return &Notifier{
		store:     store,
		scheduler: scheduler,
		timers:    make(map[string]clock.Timer),
	}
}

// Notify shows n and returns its ID, generating one when n.ID is empty.
func (n *Notifier) Notify(note Notification) string {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}

	n.store.Update(func(prev State) Partial {
		next := make([]Notification, 0, len(prev.Notifications)+1)
		replaced := false
		for _, existing := range prev.Notifications {
			if existing.ID == note.ID {
				next = append(next, note)
				replaced = true
				continue
			}
			next = append(next, existing)
		}
		if !replaced {
			next = append(next, note)
		}
		return Partial{Notifications: &next}
	})

	n.mu.Lock()
	if t, ok := n.timers[note.ID]; ok {
		t.Stop()
		delete(n.timers, note.ID)
	}
	if note.Duration > 0 {
		id := note.ID
		var timer clock.Timer
		timer = n.scheduler.AfterFunc(note.Duration, func() {
			n.mu.Lock()
			if n.timers[id] != timer {
				n.mu.Unlock()
				return
			}
			delete(n.timers, id)
			n.mu.Unlock()
			n.remove(id)
		})
		n.timers[id] = timer
	}
	n.mu.Unlock()

	return note.ID
}

// Dismiss removes the notification with the given ID, if present.
func (n *Notifier) Dismiss(id string) {
	n.mu.Lock()
	if t, ok := n.timers[id]; ok {
		t.Stop()
		delete(n.timers, id)
	}
	n.mu.Unlock()

	n.remove(id)
}

// Lookup returns the notification with the given ID from the current snapshot.
func (n *Notifier) Lookup(id string) (Notification, bool) {
	for _, note := range n.store.Get().Notifications {
		if note.ID == id {
			return note, true
		}
	}
	return Notification{}, false
}

func (n *Notifier) remove(id string) {
	n.store.Update(func(prev State) Partial {
		found := false
		next := make([]Notification, 0, len(prev.Notifications))
		for _, existing := range prev.Notifications {
			if existing.ID == id {
				found = true
				continue
			}
			next = append(next, existing)
		}
		if !found {
			return Partial{}
		}
		return Partial{Notifications: &next}
	})
}

// Stop cancels all pending removals.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
}
