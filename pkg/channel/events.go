package channel

import (
	"time"

	"github.com/cuemby/fnchannel/pkg/fnrpc"
)

// InboundEvent wraps a message the transport received from a worker,
// tagged with that worker's identifier so the Event Bus's consumers can
// filter to the channel it belongs to.
type InboundEvent struct {
	WorkerID  string
	Message   *fnrpc.StreamingMessage
	Timestamp time.Time
}

func (e InboundEvent) EventTimestamp() time.Time { return e.Timestamp }

// WorkerErrorEvent is published whenever a worker's transport fails
// fatally, or the worker explicitly reports a failed init handshake.
type WorkerErrorEvent struct {
	Language  string
	WorkerID  string
	Err       error
	Timestamp time.Time
}

func (e WorkerErrorEvent) EventTimestamp() time.Time { return e.Timestamp }

// HostRestartEvent signals that a watched script file changed and the
// worker should be restarted. It carries no payload beyond the
// occurrence itself.
type HostRestartEvent struct {
	WorkerID  string
	Timestamp time.Time
}

func (e HostRestartEvent) EventTimestamp() time.Time { return e.Timestamp }

// FileEvent is published by the file-watch producer for every change to
// a file under a channel's watched roots. The channel itself filters by
// extension and debounces before deriving a HostRestartEvent from it.
type FileEvent struct {
	WorkerID  string
	Path      string
	Timestamp time.Time
}

func (e FileEvent) EventTimestamp() time.Time { return e.Timestamp }
