package downloader

import (
	"context"
	"sort"
	"sync"
)

// registry maps active download IDs to their cancel functions.
type registry struct {
	mu      sync.Mutex
	entries map[string]context.CancelCauseFunc
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]context.CancelCauseFunc)}
}

func (r *registry) add(id string, cancel context.CancelCauseFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return false
	}
	r.entries[id] = cancel
	return true
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// cancel removes id and cancels it with cause. It reports whether id was active.
func (r *registry) cancel(id string, cause error) bool {
	r.mu.Lock()
	cancel, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		cancel(cause)
	}
	return ok
}

func (r *registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
