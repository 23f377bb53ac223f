package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fnchannel/pkg/eventbus"
	"github.com/cuemby/fnchannel/pkg/fnrpc"
)

// Demux filters the Event Bus's heterogeneous stream down to the
// InboundEvents addressed to one worker, and offers one-shot and
// continuous subscriptions keyed by content case. The eventbus's own
// dispatch loop is the "single async pump" the design calls for; Demux
// only adds the per-content-case filtering on top of it.
type Demux struct {
	bus      *eventbus.Bus
	workerID string
}

// NewDemux returns a demultiplexer scoped to workerID.
func NewDemux(bus *eventbus.Bus, workerID string) *Demux {
	return &Demux{bus: bus, workerID: workerID}
}

func (d *Demux) filterFor(contentCase fnrpc.ContentCase) eventbus.Filter {
	return func(e eventbus.Event) bool {
		ie, ok := e.(InboundEvent)
		if !ok {
			return false
		}
		return ie.WorkerID == d.workerID && ie.Message.Content == contentCase
	}
}

// OneShot waits for the first message matching contentCase. Exactly one
// of (message, nil) or (nil, error) is returned: a timeout error if
// none arrives within timeout, or ctx.Err() if ctx is cancelled first.
// The subscription is always released before returning.
func (d *Demux) OneShot(ctx context.Context, contentCase fnrpc.ContentCase, timeout time.Duration) (*fnrpc.StreamingMessage, error) {
	sub := d.bus.Subscribe(d.filterFor(contentCase))
	defer d.bus.Unsubscribe(sub)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt, ok := <-sub.C():
		if !ok {
			return nil, fmt.Errorf("channel: event bus closed while waiting for %s", contentCase)
		}
		return evt.(InboundEvent).Message, nil
	case <-timer.C:
		return nil, fmt.Errorf("channel: timed out after %s waiting for %s", timeout, contentCase)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Continuous invokes handler for every message matching contentCase
// until ctx is cancelled, then releases the subscription. The handler
// runs on a dedicated goroutine per subscription and must not block.
func (d *Demux) Continuous(ctx context.Context, contentCase fnrpc.ContentCase, handler func(*fnrpc.StreamingMessage)) {
	sub := d.bus.Subscribe(d.filterFor(contentCase))

	go func() {
		defer d.bus.Unsubscribe(sub)
		for {
			select {
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				handler(evt.(InboundEvent).Message)
			case <-ctx.Done():
				return
			}
		}
	}()
}
