package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Kind string
	ID   string
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker[testEvent]()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&testEvent{Kind: "agent.connected", ID: "agt-1"})

	select {
	case evt := <-sub:
		assert.Equal(t, "agent.connected", evt.Kind)
		assert.Equal(t, "agt-1", evt.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerFanOutToMultipleSubscribers(t *testing.T) {
	b := NewBroker[testEvent]()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&testEvent{Kind: "process.exited", ID: "proc-1"})

	for _, sub := range []Subscriber[testEvent]{sub1, sub2} {
		select {
		case evt := <-sub:
			assert.Equal(t, "proc-1", evt.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker[testEvent]()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBrokerPublishDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	b := NewBroker[testEvent]()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Flood past the 50-slot subscriber buffer without ever draining it;
	// broadcast must drop rather than block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&testEvent{Kind: "flood", ID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish loop blocked under full subscriber buffer")
	}
}

func TestBrokerStopEndsBroadcastLoop(t *testing.T) {
	b := NewBroker[testEvent]()
	b.Start()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Stop()

	// Publish after Stop must not panic or hang; it returns through
	// either the buffered eventCh or the closed stopCh branch.
	done := make(chan struct{})
	go func() {
		b.Publish(&testEvent{Kind: "late", ID: "y"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish after stop did not return")
	}
}
