package state

import (
	"sync"
)

// Listener is called after every Set with the new and previous snapshots.
type Listener func(next, prev State)

// Store owns the single session snapshot. Set merges a Partial into it and
// notifies listeners synchronously; there is no batching, so N calls to Set
// produce N notification rounds.
//
// Listeners run on the goroutine that called Set, outside the store lock, so a
// listener may read the store but should not call Set on it.
type Store struct {
	mu        sync.Mutex
	current   State
	listeners []listenerEntry
	nextID    uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// NewStore creates a store holding initial.
func NewStore(initial State) *Store {
	return &Store{current: initial}
}

// Get returns the current snapshot.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set merges p into the snapshot and notifies listeners.
func (s *Store) Set(p Partial) {
	s.Update(func(State) Partial { return p })
}

// Update computes a Partial from the current snapshot and merges it. The
// function runs under the store lock, so the read and the merge are atomic
// with respect to other Set and Update calls.
func (s *Store) Update(fn func(prev State) Partial) {
	s.mu.Lock()
	prev := s.current
	next := Merge(prev, fn(prev))
	s.current = next
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(next, prev)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}
