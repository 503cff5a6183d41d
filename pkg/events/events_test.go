package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventWorkloadApplied, Workload: "greeter"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventWorkloadApplied, ev.Type)
		assert.Equal(t, "greeter", ev.Workload)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerFullSubscriberSkipped(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	// Never drained; its buffer fills and further events are dropped for it
	stuck := b.Subscribe()
	live := b.Subscribe()

	for i := 0; i < 120; i++ {
		b.Publish(&Event{Type: EventInstanceCreated, Instance: "i-1"})
	}

	// The live subscriber still receives events
	received := 0
	deadline := time.After(2 * time.Second)
	for received < cap(live) {
		select {
		case <-live:
			received++
		case <-deadline:
			t.Fatalf("live subscriber only received %d events", received)
		}
	}
	require.Equal(t, cap(live), received)
	_ = stuck
}
