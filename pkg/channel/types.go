// Package channel implements the host-side control channel for a
// single language-worker process: the state machine taking it from
// launch through handshake, function registration, bounded-parallelism
// invocation dispatch, and teardown.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/cuemby/fnchannel/pkg/log"
	"github.com/rs/zerolog"
)

// WorkerConfig is the read-only configuration for one worker process.
type WorkerConfig struct {
	Language   string
	Extensions []string
}

// BindingDescriptor describes one named, directional binding on a
// function, independent of its wire encoding.
type BindingDescriptor struct {
	Name      string
	Direction fnrpc.BindingDirection
	Type      string
	DataType  string
}

// FunctionMetadata is the read-only descriptor for one registered
// function.
type FunctionMetadata struct {
	FunctionID               string
	Name                     string
	EntryPoint               string
	ScriptFile               string
	Directory                string
	IsProxy                  bool
	ManagedDependencyEnabled bool
	Bindings                 []BindingDescriptor
}

// Result is what a ScriptInvocationContext's promise resolves to.
type Result struct {
	Outputs     map[string]any
	ReturnValue any
}

// resultPromise is a one-shot, exactly-once-settled future for an
// invocation's outcome. It intentionally mirrors the completable
// promise the spec describes rather than a raw channel, so completion
// can be guarded against double-fire from both the dispatcher's error
// paths and the response handler.
type resultPromise struct {
	once sync.Once
	done chan struct{}

	result Result
	err    error
}

func newResultPromise() *resultPromise {
	return &resultPromise{done: make(chan struct{})}
}

// complete settles the promise exactly once; later calls are no-ops.
func (p *resultPromise) complete(result Result, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Wait blocks until the promise settles or ctx is done.
func (p *resultPromise) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ScriptInvocationContext is the per-invocation unit of work handed to
// a channel through a function's input queue.
type ScriptInvocationContext struct {
	InvocationID    string
	Function        *FunctionMetadata
	Inputs          map[string]any
	TriggerMetadata map[string]any

	// Ctx carries cancellation for this invocation; the dispatcher
	// checks Ctx.Err() before sending the request.
	Ctx context.Context

	// Logger is the invocation-scoped logger RpcLog entries for this
	// invocation are replayed under (see pkg/log.WithInvocationID).
	Logger zerolog.Logger

	// Deadline, if non-zero, is when this invocation's caller will stop
	// waiting; purely informational to the dispatcher/metrics, the
	// channel itself does not enforce it.
	Deadline time.Time

	promise *resultPromise

	// dispatchedAt is set by the dispatcher immediately before the
	// request is sent, for the invocation-duration metric; zero until
	// then.
	dispatchedAt time.Time
}

// NewScriptInvocationContext creates a context with its result promise
// initialized and ready to be completed exactly once.
func NewScriptInvocationContext(invocationID string, fn *FunctionMetadata) *ScriptInvocationContext {
	return &ScriptInvocationContext{
		InvocationID:    invocationID,
		Function:        fn,
		Inputs:          make(map[string]any),
		TriggerMetadata: make(map[string]any),
		Ctx:             context.Background(),
		Logger:          log.WithInvocationID(log.Logger, invocationID),
		promise:         newResultPromise(),
	}
}

// Wait blocks for this invocation's result.
func (c *ScriptInvocationContext) Wait(ctx context.Context) (Result, error) {
	return c.promise.Wait(ctx)
}

func (c *ScriptInvocationContext) complete(result Result, err error) {
	c.promise.complete(result, err)
}

// Capabilities is the append/overwrite-only registry of capability
// name/value pairs advertised by the worker at handshake time. It
// satisfies convert.CapabilityChecker.
type Capabilities struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewCapabilities returns an empty capability registry.
func NewCapabilities() *Capabilities {
	return &Capabilities{values: make(map[string]string)}
}

// Update merges in new capability values; existing keys are
// overwritten, none are ever removed.
func (c *Capabilities) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		if v == "" {
			continue
		}
		c.values[k] = v
	}
}

// Has reports whether name was advertised with a non-empty value.
func (c *Capabilities) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[name]
	return ok
}

// Get returns the value for name and whether it was present.
func (c *Capabilities) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}

// Snapshot returns a copy of all capability values.
func (c *Capabilities) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
