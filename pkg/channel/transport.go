package channel

import (
	"sync"
	"time"

	"github.com/cuemby/fnchannel/pkg/eventbus"
	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/cuemby/fnchannel/pkg/log"
)

// streamConn is the narrow surface Transport needs from a gRPC stream.
// Both fnrpc.FunctionRpc_EventStreamServer (the real, server-side half
// the host accepts from a worker) and fnrpc.FunctionRpc_EventStreamClient
// satisfy it, which is what lets tests drive a Transport against an
// in-memory fake instead of a real socket.
type streamConn interface {
	Send(*fnrpc.StreamingMessage) error
	Recv() (*fnrpc.StreamingMessage, error)
}

// Transport owns the single long-lived bidirectional stream to one
// worker. This resolves the §9(a) open question in favor of one call
// for the channel's lifetime: Start is called once, after which Send
// may be called concurrently (serialized internally by outbound) for
// as long as the stream stays open.
type Transport struct {
	bus      *eventbus.Bus
	workerID string
	language string
	stream   streamConn

	outbound chan *fnrpc.StreamingMessage
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTransport builds a Transport over an already-established stream.
// Call Start to begin pumping messages.
func NewTransport(bus *eventbus.Bus, workerID, language string, stream streamConn) *Transport {
	return &Transport{
		bus:      bus,
		workerID: workerID,
		language: language,
		stream:   stream,
		outbound: make(chan *fnrpc.StreamingMessage, 64),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the send and receive pumps. Both run until the stream
// fails or Close is called.
func (t *Transport) Start() {
	go t.sendLoop()
	go t.receiveLoop()
}

// Send enqueues msg for the single writer goroutine. It returns once
// the message is handed off, not once the peer acknowledges it; it
// returns ErrTransportFailed if the transport has already failed.
func (t *Transport) Send(msg *fnrpc.StreamingMessage) error {
	select {
	case t.outbound <- msg:
		return nil
	case <-t.stopCh:
		return ErrTransportFailed
	}
}

// Close stops both pumps without treating the shutdown as a failure
// (used by a clean Dispose, as opposed to an I/O error).
func (t *Transport) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

func (t *Transport) sendLoop() {
	for {
		select {
		case msg := <-t.outbound:
			if err := t.stream.Send(msg); err != nil {
				t.fail(err)
				return
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) receiveLoop() {
	for {
		msg, err := t.stream.Recv()
		if err != nil {
			t.fail(err)
			return
		}

		select {
		case <-t.stopCh:
			return
		default:
		}

		t.bus.Publish(InboundEvent{
			WorkerID:  t.workerID,
			Message:   msg,
			Timestamp: time.Now(),
		})
	}
}

// fail tears the transport down and publishes WorkerErrorEvent exactly
// once, regardless of whether the send or receive pump observed the
// failure first.
func (t *Transport) fail(cause error) {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		log.Logger.Error().Err(cause).Str("worker_id", t.workerID).Msg("transport failed")
		t.bus.Publish(WorkerErrorEvent{
			Language:  t.language,
			WorkerID:  t.workerID,
			Err:       newTransportFailedError(cause),
			Timestamp: time.Now(),
		})
	})
}

// Failed reports whether the transport has already torn itself down.
func (t *Transport) Failed() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the transport stops, whether from
// an I/O failure or a clean Close.
func (t *Transport) Done() <-chan struct{} {
	return t.stopCh
}
