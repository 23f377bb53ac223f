// Package eventbus provides a process-wide, in-memory publish/subscribe
// fabric for the heterogeneous events a channel produces and consumes:
// inbound worker messages, file-change notifications, worker errors,
// and host-restart signals. It is a channel-broadcast broker over an
// Event interface, so any number of independent subscribers can filter
// the same stream.
package eventbus

import (
	"sync"
	"time"
)

// Event is the interface implemented by everything published on a Bus.
// The concrete event types live in pkg/channel (InboundEvent,
// WorkerErrorEvent, HostRestartEvent, and FileEvent, the last of which
// pkg/watch publishes).
type Event interface {
	// EventTimestamp returns when the event occurred.
	EventTimestamp() time.Time
}

// Filter decides whether a subscriber wants a given event.
type Filter func(Event) bool

// Any matches every event; use it for an unfiltered subscription.
func Any(Event) bool { return true }

// Subscription is a live feed of events matching a Filter.
type Subscription struct {
	ch     chan Event
	filter Filter
}

// C returns the channel to range or select over.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Bus manages event subscriptions and distribution.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]bool
	eventCh     chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// New creates a new event bus with the given publish buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[*Subscription]bool),
		eventCh:     make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the bus's dispatch loop. Must be called before Publish
// delivers anything to subscribers.
func (b *Bus) Start() {
	go b.run()
}

// Stop halts dispatch and closes every subscriber channel. Safe to call
// more than once.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			close(sub.ch)
		}
		b.subscribers = make(map[*Subscription]bool)
	})
}

// Subscribe opens a new filtered subscription. Pass Any to receive
// every event. The returned subscription has its own 50-event buffer;
// a slow subscriber drops events rather than blocking the bus.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	if filter == nil {
		filter = Any
	}
	sub := &Subscription{
		ch:     make(chan Event, 50),
		filter: filter,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

// Publish queues an event for delivery to every matching subscriber.
// Publish never blocks on a subscriber; it only blocks briefly on the
// bus's own dispatch buffer, and not at all once the bus is stopped.
func (b *Bus) Publish(event Event) {
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Bus) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// subscriber buffer full, drop rather than block the bus
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// SubscribeType opens a subscription restricted to events of type T,
// additionally passing each through extra (if non-nil). It's a
// generic convenience wrapper for subscribing to one concrete event
// type, say WorkerErrorEvent, without writing the type assertion into
// a Filter by hand.
func SubscribeType[T Event](b *Bus, extra func(T) bool) *Subscription {
	return b.Subscribe(func(e Event) bool {
		t, ok := e.(T)
		if !ok {
			return false
		}
		if extra == nil {
			return true
		}
		return extra(t)
	})
}
