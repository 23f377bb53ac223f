package channel

import (
	"fmt"
	"sync"

	"github.com/cuemby/fnchannel/pkg/fnrpc"
)

// Switchboard is the single FunctionRpcServer a host registers on its
// gRPC listener. Every worker process dials the same endpoint; the
// first message on each call is expected to be StartStream carrying the
// worker id, which Switchboard uses to route the rest of the call to
// the matching Channel.
type Switchboard struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewSwitchboard returns an empty switchboard.
func NewSwitchboard() *Switchboard {
	return &Switchboard{channels: make(map[string]*Channel)}
}

// Register makes c reachable by its worker id. Call this before the
// worker process is launched, since the inbound call may race the
// spawn.
func (s *Switchboard) Register(c *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[c.workerID] = c
}

// Unregister removes a channel once disposed.
func (s *Switchboard) Unregister(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, workerID)
}

// EventStream implements fnrpc.FunctionRpcServer. It reads exactly one
// frame itself to learn which channel the call belongs to, then hands
// the stream off to that channel for the remainder of its lifetime.
func (s *Switchboard) EventStream(stream fnrpc.FunctionRpc_EventStreamServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Content != fnrpc.ContentStartStream || first.StartStream == nil {
		return fmt.Errorf("channel: expected StartStream as the first message, got %s", first.Content)
	}

	workerID := first.StartStream.WorkerID
	s.mu.RLock()
	c, ok := s.channels[workerID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel: no channel registered for worker %s", workerID)
	}

	return c.handleStream(stream, first)
}
