package channel

import "sync"

// FunctionRegistry holds the per-function input queues and load-error
// state. A function id appears in the queue map iff Setup has been
// called for it; it appears in loadErrors iff the worker reported a
// load failure for it.
type FunctionRegistry struct {
	mu         sync.RWMutex
	order      []string
	metadata   map[string]*FunctionMetadata
	queues     map[string]*inputQueue
	loadErrors map[string]error
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		metadata:   make(map[string]*FunctionMetadata),
		queues:     make(map[string]*inputQueue),
		loadErrors: make(map[string]error),
	}
}

// Setup installs an empty input queue for each function, in the order
// given. Re-entry for a function id that already has a queue replaces
// it (closing the old one) — the caller must not re-setup a function
// with in-flight work on its existing queue.
func (r *FunctionRegistry) Setup(functions []*FunctionMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fn := range functions {
		if _, exists := r.metadata[fn.FunctionID]; !exists {
			r.order = append(r.order, fn.FunctionID)
		}
		if old, ok := r.queues[fn.FunctionID]; ok {
			old.close()
		}
		r.metadata[fn.FunctionID] = fn
		r.queues[fn.FunctionID] = newInputQueue()
		delete(r.loadErrors, fn.FunctionID)
	}
}

// Enqueue appends ctx to function's input queue. It reports false if
// the function was never set up.
func (r *FunctionRegistry) Enqueue(functionID string, ctx *ScriptInvocationContext) bool {
	r.mu.RLock()
	q, ok := r.queues[functionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	q.push(ctx)
	return true
}

// Queue returns the input queue for functionID.
func (r *FunctionRegistry) Queue(functionID string) (*inputQueue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[functionID]
	return q, ok
}

// Metadata returns the registered descriptor for functionID.
func (r *FunctionRegistry) Metadata(functionID string) (*FunctionMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.metadata[functionID]
	return fn, ok
}

// InRegistrationOrder returns every registered function's metadata in
// the order Setup first saw it, for SendFunctionLoadRequests.
func (r *FunctionRegistry) InRegistrationOrder() []*FunctionMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*FunctionMetadata, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.metadata[id])
	}
	return out
}

// SetLoadError records a load failure for functionID.
func (r *FunctionRegistry) SetLoadError(functionID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErrors[functionID] = err
}

// LoadError returns the recorded load failure for functionID, if any.
func (r *FunctionRegistry) LoadError(functionID string) (error, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	err, ok := r.loadErrors[functionID]
	return err, ok
}

// CloseAll closes every input queue, waking blocked dispatcher
// consumers so they can exit on Dispose. It returns everything still
// queued, grouped by function id, so the caller can abandon it.
func (r *FunctionRegistry) CloseAll() map[string][]*ScriptInvocationContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	drained := make(map[string][]*ScriptInvocationContext, len(r.queues))
	for id, q := range r.queues {
		drained[id] = q.drain()
		q.close()
	}
	return drained
}
