package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestNewBus(t *testing.T) {
	bus := NewBus()
	require.NotNil(t, bus)
	assert.Equal(t, 0, bus.SubscriberCount())
	assert.Equal(t, defaultBufferSize, bus.bufferSize)

	assert.Equal(t, defaultBufferSize, NewBusWithBuffer(0).bufferSize)
	assert.Equal(t, 1500, NewBusWithBuffer(1500).bufferSize)
}

func TestBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())
	assert.NotNil(t, ch1)
	assert.NotNil(t, ch2)

	bus.Unsubscribe(ch1)
	assert.Equal(t, 1, bus.SubscriberCount())

	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel is closed")
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	delivered := bus.Publish(NewWorkerStartedEvent("run-1", "writer-1", "writer"))
	assert.Equal(t, 1, delivered)

	received := receive(t, ch)
	assert.Equal(t, EventWorkerStarted, received.Type)
	assert.Equal(t, "writer-1", received.WorkerID)
	assert.Equal(t, "writer", received.Role)
	assert.Equal(t, "run-1", received.RunID)
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewWorkerTerminatedEvent("run-1", "reader-2", "reader", "read", errors.New("cursor died")))

	for _, ch := range []<-chan Event{ch1, ch2} {
		received := receive(t, ch)
		assert.Equal(t, EventWorkerTerminated, received.Type)
		assert.Equal(t, "read", received.Data.Reason)
		assert.Equal(t, "cursor died", received.Data.Error)
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBusWithBuffer(1)
	ch := bus.Subscribe()

	bus.Publish(NewSampleEvent("run-1", "sampler-1", 1))
	bus.Publish(NewSampleEvent("run-1", "sampler-1", 2))
	bus.Publish(NewSampleEvent("run-1", "sampler-1", 3))

	assert.Equal(t, uint64(2), bus.Dropped())
	assert.Equal(t, int64(1), receive(t, ch).Data.Count)
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Close()

	assert.Equal(t, 0, bus.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok, "expected channel to be closed")
}

func TestEventCreation(t *testing.T) {
	t.Run("TerminatedWithoutError", func(t *testing.T) {
		ev := NewWorkerTerminatedEvent("run-1", "sampler-1", "sampler", "canceled", nil)
		assert.Empty(t, ev.Data.Error)
		assert.False(t, ev.Timestamp.IsZero())
	})

	t.Run("Sample", func(t *testing.T) {
		ev := NewSampleEvent("run-1", "sampler-1", 60)
		assert.Equal(t, EventSample, ev.Type)
		assert.Equal(t, "sampler", ev.Role)
		assert.Equal(t, int64(60), ev.Data.Count)
	})
}
