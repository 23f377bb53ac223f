package channel

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/fnchannel/pkg/eventbus"
	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/cuemby/fnchannel/pkg/log"
	"github.com/cuemby/fnchannel/pkg/metrics"
	"github.com/rs/zerolog"
)

// ChannelState is the lifecycle state of one worker control channel.
type ChannelState int32

const (
	StateDefault ChannelState = iota
	StateInitializing
	StateInitialized
	StateReloading
	StateFailed
	StateDisposed
)

func (s ChannelState) String() string {
	switch s {
	case StateDefault:
		return "default"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateReloading:
		return "reloading"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Startup, init, and reload timeouts. Declared as vars rather than
// consts so tests can shrink them instead of waiting out the real
// 30 seconds.
var (
	startupTimeout = 30 * time.Second
	initTimeout    = 30 * time.Second
	reloadTimeout  = 30 * time.Second
)

// startupSettlement is the one-shot promise StartWorkerProcessAsync
// returns; it settles exactly once, with nil on a successful handshake.
type startupSettlement struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newStartupSettlement() *startupSettlement {
	return &startupSettlement{done: make(chan struct{})}
}

func (s *startupSettlement) complete(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Wait blocks until the handshake settles or ctx is cancelled first.
func (s *startupSettlement) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reloadSettlement is the one-shot promise an environment reload
// resolves to true/false on.
type reloadSettlement struct {
	once sync.Once
	done chan struct{}
	ok   bool
}

func newReloadSettlement() *reloadSettlement {
	return &reloadSettlement{done: make(chan struct{})}
}

func (s *reloadSettlement) complete(ok bool) {
	s.once.Do(func() {
		s.ok = ok
		close(s.done)
	})
}

// Wait blocks until the reload settles or ctx is cancelled first.
func (s *reloadSettlement) Wait(ctx context.Context) (bool, error) {
	select {
	case <-s.done:
		return s.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Channel is the host-side control channel for one worker process: it
// owns the handshake, the function registry and its dispatchers, the
// correlation table, and the transport carrying the single long-lived
// stream for the worker's whole lifetime.
type Channel struct {
	mu    sync.RWMutex
	state ChannelState

	workerID    string
	config      WorkerConfig
	hostVersion string

	bus   *eventbus.Bus
	demux *Demux

	transport *Transport

	registry     *FunctionRegistry
	correlation  *CorrelationTable
	capabilities *Capabilities

	loadTimers map[string]*metrics.Timer

	logger zerolog.Logger

	startup *startupSettlement
	reload  *reloadSettlement

	ctx    context.Context
	cancel context.CancelFunc
}

// NewChannel builds a channel for workerID, ready to have its worker
// process launched via StartWorkerProcessAsync. hostVersion is the
// value advertised in the init handshake.
func NewChannel(workerID, hostVersion string, config WorkerConfig, bus *eventbus.Bus) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		workerID:     workerID,
		config:       config,
		hostVersion:  hostVersion,
		bus:          bus,
		demux:        NewDemux(bus, workerID),
		registry:     NewFunctionRegistry(),
		correlation:  NewCorrelationTable(),
		capabilities: NewCapabilities(),
		loadTimers:   make(map[string]*metrics.Timer),
		logger:       log.WithWorkerID(workerID),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.watchForTransportFailure()
	c.watchForFileChanges()
	return c
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		metrics.ChannelState.WithLabelValues(prev.String()).Set(0)
	}
	metrics.ChannelState.WithLabelValues(s.String()).Set(1)
}

// handleStream wires the accepted worker connection to this channel's
// Transport and blocks until it fails or the channel disposes. first is
// the StartStream message the switchboard already consumed to route
// the call here; it's replayed onto the Event Bus so the waiter armed
// by StartWorkerProcessAsync still observes it.
func (c *Channel) handleStream(stream fnrpc.FunctionRpc_EventStreamServer, first *fnrpc.StreamingMessage) error {
	c.mu.Lock()
	c.transport = NewTransport(c.bus, c.workerID, c.config.Language, stream)
	c.mu.Unlock()
	c.transport.Start()

	c.bus.Publish(InboundEvent{WorkerID: c.workerID, Message: first, Timestamp: time.Now()})

	select {
	case <-c.transport.Done():
	case <-c.ctx.Done():
	}
	return nil
}

// StartWorkerProcessAsync arms the StartStream waiter, transitions to
// Initializing, then runs launch (expected to start the worker process
// and return once the spawn itself either succeeds or fails). The
// returned settlement resolves once the whole handshake — StartStream,
// WorkerInitRequest, WorkerInitResponse — settles one way or the other.
func (c *Channel) StartWorkerProcessAsync(ctx context.Context, launch func() error) *startupSettlement {
	c.setState(StateInitializing)
	c.startup = newStartupSettlement()
	timer := metrics.NewTimer()

	go func() {
		_, err := c.demux.OneShot(ctx, fnrpc.ContentStartStream, startupTimeout)
		if err != nil {
			c.fail(err)
			return
		}
		c.onStartStream(ctx, timer)
	}()

	if err := launch(); err != nil {
		c.fail(err)
	}

	return c.startup
}

func (c *Channel) onStartStream(ctx context.Context, timer *metrics.Timer) {
	go func() {
		resp, err := c.demux.OneShot(ctx, fnrpc.ContentWorkerInitResponse, initTimeout)
		if err != nil {
			c.fail(err)
			return
		}
		c.onWorkerInitResponse(resp, timer)
	}()

	req := &fnrpc.StreamingMessage{
		Content:           fnrpc.ContentWorkerInitRequest,
		WorkerInitRequest: &fnrpc.WorkerInitRequest{HostVersion: c.hostVersion},
	}
	if err := c.transport.Send(req); err != nil {
		c.fail(err)
	}
}

func (c *Channel) onWorkerInitResponse(msg *fnrpc.StreamingMessage, timer *metrics.Timer) {
	resp := msg.WorkerInitResponse
	if resp == nil {
		c.fail(fmt.Errorf("channel: malformed WorkerInitResponse"))
		return
	}
	if resp.Result.Status != fnrpc.StatusSuccess {
		c.fail(statusError("", "", resp.Result))
		return
	}

	c.capabilities.Update(resp.Capabilities)
	c.setState(StateInitialized)
	metrics.WorkerStartupDuration.Observe(timer.Duration().Seconds())

	c.demux.Continuous(c.ctx, fnrpc.ContentFunctionLoadResponse, c.onFunctionLoadResponse)
	c.demux.Continuous(c.ctx, fnrpc.ContentInvocationResponse, c.onInvocationResponse)
	c.demux.Continuous(c.ctx, fnrpc.ContentRpcLog, c.onRpcLog)

	c.startup.complete(nil)
}

// fail transitions to Failed, settles the startup promise if it hasn't
// already settled, and publishes a WorkerErrorEvent so any interested
// host policy (restart, quarantine) can react.
func (c *Channel) fail(cause error) {
	c.setState(StateFailed)
	c.logger.Error().Err(cause).Msg("worker channel failed")
	if c.startup != nil {
		c.startup.complete(cause)
	}
	c.bus.Publish(WorkerErrorEvent{
		Language:  c.config.Language,
		WorkerID:  c.workerID,
		Err:       cause,
		Timestamp: time.Now(),
	})
}

// SetupFunctionInvocationBuffers installs an empty input queue per
// function. Safe to call again for functions with no in-flight work —
// see FunctionRegistry.Setup.
func (c *Channel) SetupFunctionInvocationBuffers(functions []*FunctionMetadata) {
	c.registry.Setup(functions)
	metrics.FunctionsLoaded.Set(float64(len(functions)))
}

// SendFunctionLoadRequests writes one FunctionLoadRequest per
// registered function, in registration order, without waiting for a
// response — responses are correlated by function id as they arrive.
func (c *Channel) SendFunctionLoadRequests() error {
	for _, fn := range c.registry.InRegistrationOrder() {
		c.mu.Lock()
		c.loadTimers[fn.FunctionID] = metrics.NewTimer()
		c.mu.Unlock()

		msg := &fnrpc.StreamingMessage{
			Content: fnrpc.ContentFunctionLoadRequest,
			FunctionLoadRequest: &fnrpc.FunctionLoadRequest{
				FunctionID: fn.FunctionID,
				Metadata:   toRPCMetadata(fn),
			},
		}
		if err := c.transport.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) onFunctionLoadResponse(msg *fnrpc.StreamingMessage) {
	resp := msg.FunctionLoadResponse
	if resp == nil {
		return
	}
	fn, ok := c.registry.Metadata(resp.FunctionID)
	if !ok {
		c.logger.Warn().Str("function_id", resp.FunctionID).Msg("load response for unregistered function")
		return
	}

	c.mu.Lock()
	timer := c.loadTimers[resp.FunctionID]
	delete(c.loadTimers, resp.FunctionID)
	c.mu.Unlock()
	if timer != nil {
		timer.ObserveDurationVec(metrics.FunctionLoadDuration, resp.FunctionID)
	}

	if resp.Result.Status != fnrpc.StatusSuccess {
		err := statusError(resp.FunctionID, "", resp.Result)
		c.registry.SetLoadError(resp.FunctionID, err)
		metrics.FunctionLoadErrorsTotal.WithLabelValues(resp.FunctionID).Inc()
		log.WithFunctionID(c.logger, resp.FunctionID).Error().Err(err).Msg("function load failed")
	}

	// Attached regardless of outcome: a failed load still needs a
	// consumer so queued contexts short-circuit instead of piling up.
	c.attachDispatcher(fn)
}

// Enqueue appends an invocation context to its function's input queue,
// reporting false if the function was never registered.
func (c *Channel) Enqueue(ictx *ScriptInvocationContext) bool {
	if ictx.Function == nil {
		return false
	}
	ok := c.registry.Enqueue(ictx.Function.FunctionID, ictx)
	if ok {
		metrics.DispatcherQueueDepth.WithLabelValues(ictx.Function.FunctionID).Inc()
	}
	return ok
}

// SendFunctionEnvironmentReloadRequest snapshots the process environment
// into a FunctionEnvironmentReloadRequest and sends it, transitioning
// Initialized -> Reloading until the response settles the returned
// promise and the channel returns to Initialized.
func (c *Channel) SendFunctionEnvironmentReloadRequest(ctx context.Context) *reloadSettlement {
	c.setState(StateReloading)
	c.reload = newReloadSettlement()
	timer := metrics.NewTimer()

	go func() {
		resp, err := c.demux.OneShot(ctx, fnrpc.ContentFunctionEnvironmentReloadResponse, reloadTimeout)
		if err != nil {
			metrics.ReloadsTotal.WithLabelValues("timeout").Inc()
			c.setState(StateInitialized)
			c.reload.complete(false)
			return
		}
		c.onReloadResponse(resp, timer)
	}()

	req := &fnrpc.StreamingMessage{
		Content: fnrpc.ContentFunctionEnvironmentReloadRequest,
		FunctionEnvironmentReloadRequest: &fnrpc.FunctionEnvironmentReloadRequest{
			EnvironmentVariables: snapshotEnviron(),
		},
	}
	if err := c.transport.Send(req); err != nil {
		metrics.ReloadsTotal.WithLabelValues("send_error").Inc()
		c.setState(StateInitialized)
		c.reload.complete(false)
	}

	return c.reload
}

func (c *Channel) onReloadResponse(msg *fnrpc.StreamingMessage, timer *metrics.Timer) {
	metrics.ReloadDuration.Observe(timer.Duration().Seconds())

	resp := msg.FunctionEnvironmentReloadResponse
	ok := resp != nil && resp.Result.Status == fnrpc.StatusSuccess
	if ok {
		c.capabilities.Update(resp.Capabilities)
		metrics.ReloadsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.ReloadsTotal.WithLabelValues("failure").Inc()
	}

	c.setState(StateInitialized)
	c.reload.complete(ok)
}

// watchForTransportFailure implements the deliberate strengthening over
// the reference behavior: rather than abandoning in-flight invocations
// when the transport dies, every correlation-table entry is failed with
// ErrTransportFailed so a caller blocked on Wait never hangs forever.
func (c *Channel) watchForTransportFailure() {
	sub := c.bus.Subscribe(func(e eventbus.Event) bool {
		we, ok := e.(WorkerErrorEvent)
		return ok && we.WorkerID == c.workerID
	})
	go func() {
		defer c.bus.Unsubscribe(sub)
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			we := evt.(WorkerErrorEvent)
			c.setState(StateFailed)
			for _, ictx := range c.correlation.DrainAll() {
				ictx.complete(Result{}, ErrTransportFailed)
			}
			metrics.CorrelationTableSize.Set(0)
			metrics.TransportErrorsTotal.WithLabelValues(we.Err.Error()).Inc()
		case <-c.ctx.Done():
		}
	}()
}

// Dispose tears the channel down: subscriptions are cancelled, the
// transport is closed, and every input queue is drained and closed.
// Contexts already in flight when Dispose runs are abandoned — their
// promises are not auto-failed, a deliberate choice left to the caller
// who owns the worker process handle.
func (c *Channel) Dispose() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.setState(StateDisposed)
	c.cancel()
	if c.transport != nil {
		c.transport.Close()
	}
	c.registry.CloseAll()
	c.logger.Info().Msg("channel disposed")
}

func snapshotEnviron() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}

func toRPCMetadata(fn *FunctionMetadata) fnrpc.RpcFunctionMetadata {
	bindings := make([]fnrpc.BindingInfo, 0, len(fn.Bindings))
	for _, b := range fn.Bindings {
		bindings = append(bindings, fnrpc.BindingInfo{
			Name:      b.Name,
			Direction: b.Direction,
			Type:      b.Type,
			DataType:  b.DataType,
		})
	}
	return fnrpc.RpcFunctionMetadata{
		FunctionID:               fn.FunctionID,
		Name:                     fn.Name,
		EntryPoint:               fn.EntryPoint,
		ScriptFile:               fn.ScriptFile,
		Directory:                fn.Directory,
		IsProxy:                  fn.IsProxy,
		ManagedDependencyEnabled: fn.ManagedDependencyEnabled,
		Bindings:                 bindings,
	}
}
