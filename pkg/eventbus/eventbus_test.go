package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	name string
	at   time.Time
}

func (e testEvent) EventTimestamp() time.Time { return e.at }

type otherEvent struct{ at time.Time }

func (e otherEvent) EventTimestamp() time.Time { return e.at }

func TestBusPublishSubscribe(t *testing.T) {
	bus := New(0)
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe(Any)
	defer bus.Unsubscribe(sub)

	bus.Publish(testEvent{name: "a", at: time.Now()})

	select {
	case evt := <-sub.C():
		got, ok := evt.(testEvent)
		require.True(t, ok)
		assert.Equal(t, "a", got.name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusFiltersByPredicate(t *testing.T) {
	bus := New(0)
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe(func(e Event) bool {
		te, ok := e.(testEvent)
		return ok && te.name == "wanted"
	})
	defer bus.Unsubscribe(sub)

	bus.Publish(testEvent{name: "ignored", at: time.Now()})
	bus.Publish(testEvent{name: "wanted", at: time.Now()})

	select {
	case evt := <-sub.C():
		got := evt.(testEvent)
		assert.Equal(t, "wanted", got.name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching event")
	}

	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected second event delivered: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeTypeFiltersByConcreteType(t *testing.T) {
	bus := New(0)
	bus.Start()
	defer bus.Stop()

	sub := SubscribeType[testEvent](bus, nil)
	defer bus.Unsubscribe(sub)

	bus.Publish(otherEvent{at: time.Now()})
	bus.Publish(testEvent{name: "typed", at: time.Now()})

	select {
	case evt := <-sub.C():
		got := evt.(testEvent)
		assert.Equal(t, "typed", got.name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed event")
	}
}

func TestMultipleSubscribersEachReceiveBroadcast(t *testing.T) {
	bus := New(0)
	bus.Start()
	defer bus.Stop()

	subA := bus.Subscribe(Any)
	subB := bus.Subscribe(Any)
	defer bus.Unsubscribe(subA)
	defer bus.Unsubscribe(subB)

	require.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(testEvent{name: "broadcast", at: time.Now()})

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case evt := <-sub.C():
			assert.Equal(t, "broadcast", evt.(testEvent).name)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast event")
		}
	}
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	bus := New(0)
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe(Any)
	bus.Unsubscribe(sub)

	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestStopClosesAllSubscribersAndIsIdempotent(t *testing.T) {
	bus := New(0)
	bus.Start()

	sub := bus.Subscribe(Any)

	bus.Stop()
	bus.Stop() // must not panic on double-close

	_, ok := <-sub.C()
	assert.False(t, ok)
}
