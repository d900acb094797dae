// Package events provides the named-channel publish/subscribe bus used by the
// session orchestrator to announce lifecycle events and to hand load, quality
// and audio-track requests to format plugins.
//
// Handlers run synchronously on the publisher's goroutine in subscription
// order. A handler that panics unwinds into the publisher; the bus does not
// isolate subscribers from each other.
package events

import (
	"sync"
)

// Handler receives the payload of a published event.
type Handler func(payload any)

// Bus dispatches payloads to the handlers subscribed on a channel.
type Bus struct {
	mu       sync.RWMutex
	channels map[string][]subscription
	nextID   uint64
}

type subscription struct {
	id      uint64
	handler Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		channels: make(map[string][]subscription),
	}
}

// Subscribe registers handler on channel and returns a function that removes
// exactly this subscription. Calling the returned function more than once is safe.
func (b *Bus) Subscribe(channel string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.channels[channel] = append(b.channels[channel], subscription{id: id, handler: handler})

	return func() {
		b.unsubscribe(channel, id)
	}
}

func (b *Bus) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.channels, channel)
		} else {
			b.channels[channel] = next
		}
		return
	}
}

// Publish invokes every handler currently subscribed to channel. Handlers
// added or removed during dispatch take effect on the next Publish.
func (b *Bus) Publish(channel string, payload any) {
	b.mu.RLock()
	subs := b.channels[channel]
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(payload)
	}
}

// Subscribers returns the number of handlers on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Teardown drops every subscription on every channel.
func (b *Bus) Teardown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = make(map[string][]subscription)
}
