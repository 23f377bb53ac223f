package channel

import (
	"time"

	"github.com/cuemby/fnchannel/pkg/convert"
	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/cuemby/fnchannel/pkg/metrics"
)

// dispatchDegree is the fixed number of concurrent consumers attached to
// each function's input queue. Requests within a function may reorder
// across these workers; across functions there is no ordering guarantee
// at all.
const dispatchDegree = 6

// attachDispatcher starts dispatchDegree consumer goroutines pulling
// from fn's input queue. It's called exactly once per FunctionLoadResponse,
// regardless of whether the load succeeded — a failed load still needs a
// consumer so that queued contexts short-circuit to the recorded error
// instead of piling up forever.
func (c *Channel) attachDispatcher(fn *FunctionMetadata) {
	q, ok := c.registry.Queue(fn.FunctionID)
	if !ok {
		return
	}
	for i := 0; i < dispatchDegree; i++ {
		go c.dispatchLoop(fn, q)
	}
}

func (c *Channel) dispatchLoop(fn *FunctionMetadata, q *inputQueue) {
	for {
		ictx, ok := q.pop()
		if !ok {
			return
		}
		c.dispatchOne(fn, ictx)
	}
}

// dispatchOne implements the per-invocation decision tree: a recorded
// load error or an already-cancelled context short-circuits before a
// request is ever built; otherwise the context is converted to wire
// form, correlated, and sent. On a successful send, dispatchOne blocks
// until the response handler (or a transport failure) settles the
// context's promise before returning to the loop — this, not the send
// itself, is what bounds outstanding requests per function to
// dispatchDegree, since sending alone would return almost instantly.
func (c *Channel) dispatchOne(fn *FunctionMetadata, ictx *ScriptInvocationContext) {
	metrics.DispatcherQueueDepth.WithLabelValues(fn.FunctionID).Dec()
	metrics.InvocationsInFlight.WithLabelValues(fn.FunctionID).Inc()
	defer metrics.InvocationsInFlight.WithLabelValues(fn.FunctionID).Dec()

	if loadErr, ok := c.registry.LoadError(fn.FunctionID); ok {
		ictx.complete(Result{}, loadErr)
		metrics.InvocationsTotal.WithLabelValues(fn.FunctionID, "load_error").Inc()
		return
	}

	if err := ictx.Ctx.Err(); err != nil {
		ictx.complete(Result{}, err)
		metrics.InvocationsTotal.WithLabelValues(fn.FunctionID, "cancelled").Inc()
		return
	}

	req, err := c.buildInvocationRequest(fn, ictx)
	if err != nil {
		ictx.complete(Result{}, err)
		metrics.InvocationsTotal.WithLabelValues(fn.FunctionID, "conversion_error").Inc()
		return
	}

	ictx.dispatchedAt = time.Now()
	c.correlation.Insert(ictx.InvocationID, ictx)
	metrics.CorrelationTableSize.Set(float64(c.correlation.Len()))

	msg := &fnrpc.StreamingMessage{
		RequestID:         ictx.InvocationID,
		Content:           fnrpc.ContentInvocationRequest,
		InvocationRequest: req,
	}
	if err := c.transport.Send(msg); err != nil {
		c.correlation.Remove(ictx.InvocationID)
		metrics.CorrelationTableSize.Set(float64(c.correlation.Len()))
		ictx.complete(Result{}, err)
		metrics.InvocationsTotal.WithLabelValues(fn.FunctionID, "transport_error").Inc()
		return
	}

	// Block this worker until the response arrives (response.go) or the
	// channel disposes/fails (channel.go's transport-failure watcher),
	// whichever settles the promise first.
	ictx.Wait(c.ctx)
}

// buildInvocationRequest converts a ScriptInvocationContext's trigger
// metadata and input bindings to wire form via the value converter.
func (c *Channel) buildInvocationRequest(fn *FunctionMetadata, ictx *ScriptInvocationContext) (*fnrpc.InvocationRequest, error) {
	trigger := make(map[string]*fnrpc.TypedData, len(ictx.TriggerMetadata))
	for name, value := range ictx.TriggerMetadata {
		td, err := convert.ToWire(value, c.capabilities)
		if err != nil {
			return nil, err
		}
		trigger[name] = td
	}

	bindings := make([]fnrpc.ParameterBinding, 0, len(ictx.Inputs))
	for _, b := range fn.Bindings {
		value, present := ictx.Inputs[b.Name]
		if !present {
			continue
		}
		td, err := convert.ToWire(value, c.capabilities)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, fnrpc.ParameterBinding{Name: b.Name, Data: td})
	}

	return &fnrpc.InvocationRequest{
		InvocationID:    ictx.InvocationID,
		FunctionID:      fn.FunctionID,
		InputData:       bindings,
		TriggerMetadata: trigger,
	}, nil
}
