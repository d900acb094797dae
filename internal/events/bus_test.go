package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe("load", func(payload any) { got = append(got, "a:"+payload.(string)) })
	bus.Subscribe("load", func(payload any) { got = append(got, "b:"+payload.(string)) })
	bus.Subscribe("other", func(payload any) { got = append(got, "other") })

	bus.Publish("load", "x")

	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

func TestUnsubscribeRemovesOnlyThatSubscription(t *testing.T) {
	bus := NewBus()

	calls := 0
	handler := func(any) { calls++ }
	unsubFirst := bus.Subscribe("seek", handler)
	bus.Subscribe("seek", handler)

	unsubFirst()
	unsubFirst()
	bus.Publish("seek", nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, bus.Subscribers("seek"))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() { bus.Publish("nobody", 42) })
}

func TestTeardown(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("play", func(any) { calls++ })
	bus.Subscribe("pause", func(any) { calls++ })

	bus.Teardown()
	bus.Publish("play", nil)
	bus.Publish("pause", nil)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.Subscribers("play"))
}

func TestHandlerPanicReachesPublisher(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("error", func(any) { panic("boom") })

	assert.PanicsWithValue(t, "boom", func() { bus.Publish("error", nil) })
}

func TestSubscribeDuringPublish(t *testing.T) {
	bus := NewBus()

	late := 0
	bus.Subscribe("ready", func(any) {
		bus.Subscribe("ready", func(any) { late++ })
	})

	bus.Publish("ready", nil)
	assert.Equal(t, 0, late, "handler added during dispatch must not run in the same round")

	bus.Publish("ready", nil)
	assert.Equal(t, 1, late)
}
