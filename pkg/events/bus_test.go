package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(4)
	defer unsub()

	bus.Emit(RunStart, "run-1", 0, "started", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, RunStart, ev.Type)
		assert.Equal(t, "run-1", ev.RunID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Emit(IterationStart, "run-1", i, "", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	// At least the first event made it through.
	ev := <-ch
	require.Equal(t, IterationStart, ev.Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(1)
	unsub()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe is a no-op.
	bus.Emit(RunEnd, "run-1", 0, "", nil)
}
