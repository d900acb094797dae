package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-strata/internal/clock"
)

func TestSetIsShallowMerge(t *testing.T) {
	store := NewStore(Initial())

	store.Set(Partial{
		Buffered: &[]TimeRange{{Start: 0, End: 10}, {Start: 20, End: 30}},
		Volume:   Ptr(0.5),
	})
	store.Set(Partial{Buffered: &[]TimeRange{{Start: 5, End: 6}}})

	got := store.Get()
	assert.Equal(t, []TimeRange{{Start: 5, End: 6}}, got.Buffered, "slices are replaced, not merged")
	assert.Equal(t, 0.5, got.Volume, "untouched fields survive")

	store.Set(Partial{SubtitleSettings: &SubtitleSettings{Color: "red"}})
	got = store.Get()
	assert.Equal(t, "red", got.SubtitleSettings.Color)
	assert.Zero(t, got.SubtitleSettings.Size, "nested structs are replaced wholesale")
}

func TestSetSequenceMatchesMerge(t *testing.T) {
	partials := []Partial{
		{CurrentTime: Ptr(1.5)},
		{IsPlaying: Ptr(true), CurrentTime: Ptr(2.0)},
		{Sources: &[]Source{{URL: "a.mp4"}}, CurrentSourceIndex: Ptr(0)},
		{Error: Ptr("boom")},
		{Error: Ptr("")},
	}

	store := NewStore(Initial())
	expected := Initial()
	for _, p := range partials {
		store.Set(p)
		expected = Merge(expected, p)
		assert.Equal(t, expected, store.Get())
	}
}

func TestSubscribersNotifiedPerSet(t *testing.T) {
	store := NewStore(Initial())

	type round struct{ next, prev float64 }
	var rounds []round
	unsubscribe := store.Subscribe(func(next, prev State) {
		rounds = append(rounds, round{next.CurrentTime, prev.CurrentTime})
	})

	store.Set(Partial{CurrentTime: Ptr(1.0)})
	store.Set(Partial{CurrentTime: Ptr(2.0)})
	store.Set(Partial{CurrentTime: Ptr(3.0)})

	require.Len(t, rounds, 3)
	assert.Equal(t, round{1, 0}, rounds[0])
	assert.Equal(t, round{3, 2}, rounds[2])

	unsubscribe()
	store.Set(Partial{CurrentTime: Ptr(4.0)})
	assert.Len(t, rounds, 3)
}

func TestUpdateReadsLatestSnapshot(t *testing.T) {
	store := NewStore(Initial())
	for i := 0; i < 3; i++ {
		store.Update(func(prev State) Partial {
			return Partial{CurrentTime: Ptr(prev.CurrentTime + 1)}
		})
	}
	assert.Equal(t, 3.0, store.Get().CurrentTime)
}

func TestNotifierReplacesByID(t *testing.T) {
	store := NewStore(Initial())
	n := NewNotifier(store, clock.NewManual(time.Unix(0, 0)))

	n.Notify(Notification{ID: "dl", Message: "10%", Type: NotifyLoading})
	n.Notify(Notification{ID: "other", Message: "hello", Type: NotifyInfo})
	n.Notify(Notification{ID: "dl", Message: "50%", Type: NotifyLoading})

	notes := store.Get().Notifications
	require.Len(t, notes, 2)
	assert.Equal(t, "dl", notes[0].ID)
	assert.Equal(t, "50%", notes[0].Message)
}

func TestNotifierGeneratesID(t *testing.T) {
	store := NewStore(Initial())
	n := NewNotifier(store, clock.NewManual(time.Unix(0, 0)))

	id := n.Notify(Notification{Message: "hi"})
	assert.NotEmpty(t, id)

	_, ok := n.Lookup(id)
	assert.True(t, ok)
}

func TestNotifierDurationRemoval(t *testing.T) {
	store := NewStore(Initial())
	sched := clock.NewManual(time.Unix(0, 0))
	n := NewNotifier(store, sched)

	n.Notify(Notification{ID: "warn", Message: "careful", Type: NotifyWarning, Duration: 3 * time.Second})
	n.Notify(Notification{ID: "sticky", Message: "stays"})

	sched.Advance(2 * time.Second)
	assert.Len(t, store.Get().Notifications, 2)

	sched.Advance(time.Second)
	notes := store.Get().Notifications
	require.Len(t, notes, 1)
	assert.Equal(t, "sticky", notes[0].ID)
}

func TestNotifierReplacementCancelsPendingRemoval(t *testing.T) {
	store := NewStore(Initial())
	sched := clock.NewManual(time.Unix(0, 0))
	n := NewNotifier(store, sched)

	n.Notify(Notification{ID: "dl", Message: "done", Duration: time.Second})
	n.Notify(Notification{ID: "dl", Message: "again"})

	sched.Advance(5 * time.Second)
	_, ok := n.Lookup("dl")
	assert.True(t, ok)

	n.Dismiss("dl")
	_, ok = n.Lookup("dl")
	assert.False(t, ok)
}
