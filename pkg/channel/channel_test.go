package channel

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cuemby/fnchannel/pkg/eventbus"
	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream is an in-memory stand-in for the gRPC stream a worker
// would otherwise hold open; it satisfies streamConn so a Transport can
// be driven without a real subprocess or socket.
type fakeStream struct {
	outbound chan *fnrpc.StreamingMessage
	inbound  chan *fnrpc.StreamingMessage
	closed   chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		outbound: make(chan *fnrpc.StreamingMessage, 32),
		inbound:  make(chan *fnrpc.StreamingMessage, 32),
		closed:   make(chan struct{}),
	}
}

func (f *fakeStream) Send(msg *fnrpc.StreamingMessage) error {
	select {
	case f.outbound <- msg:
		return nil
	case <-f.closed:
		return io.EOF
	}
}

func (f *fakeStream) Recv() (*fnrpc.StreamingMessage, error) {
	select {
	case msg, ok := <-f.inbound:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeStream) hostSent(t *testing.T) *fnrpc.StreamingMessage {
	t.Helper()
	select {
	case msg := <-f.outbound:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the channel to send a message")
		return nil
	}
}

// newTestChannel wires a Channel directly to a fakeStream, bypassing
// the Switchboard/gRPC plumbing handleStream would otherwise do.
func newTestChannel(t *testing.T) (*Channel, *fakeStream) {
	t.Helper()

	bus := eventbus.New(100)
	bus.Start()
	t.Cleanup(bus.Stop)

	c := NewChannel("worker-1", "host/1.0", WorkerConfig{Language: "test", Extensions: []string{".js"}}, bus)
	t.Cleanup(c.Dispose)

	stream := newFakeStream()
	c.transport = NewTransport(bus, c.workerID, c.config.Language, stream)
	c.transport.Start()

	return c, stream
}

func startAndInit(t *testing.T, c *Channel, stream *fakeStream, caps map[string]string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	launched := false
	settlement := c.StartWorkerProcessAsync(ctx, func() error {
		launched = true
		return nil
	})

	stream.inbound <- &fnrpc.StreamingMessage{
		Content:     fnrpc.ContentStartStream,
		StartStream: &fnrpc.StartStream{WorkerID: c.workerID},
	}

	initReq := stream.hostSent(t)
	require.Equal(t, fnrpc.ContentWorkerInitRequest, initReq.Content)

	stream.inbound <- &fnrpc.StreamingMessage{
		Content: fnrpc.ContentWorkerInitResponse,
		WorkerInitResponse: &fnrpc.WorkerInitResponse{
			Result:       fnrpc.StatusResult{Status: fnrpc.StatusSuccess},
			Capabilities: caps,
		},
	}

	require.NoError(t, settlement.Wait(ctx))
	require.True(t, launched)
	require.Equal(t, StateInitialized, c.State())
}

func loadFunction(t *testing.T, c *Channel, stream *fakeStream, fn *FunctionMetadata, result fnrpc.StatusResult) {
	t.Helper()

	c.SetupFunctionInvocationBuffers([]*FunctionMetadata{fn})
	require.NoError(t, c.SendFunctionLoadRequests())

	loadReq := stream.hostSent(t)
	require.Equal(t, fnrpc.ContentFunctionLoadRequest, loadReq.Content)
	require.Equal(t, fn.FunctionID, loadReq.FunctionLoadRequest.FunctionID)

	stream.inbound <- &fnrpc.StreamingMessage{
		Content: fnrpc.ContentFunctionLoadResponse,
		FunctionLoadResponse: &fnrpc.FunctionLoadResponse{
			FunctionID: fn.FunctionID,
			Result:     result,
		},
	}

	// Give the continuous subscription's goroutine a moment to attach
	// the dispatcher before the caller enqueues work.
	time.Sleep(20 * time.Millisecond)
}

func TestHappyPathInvocationRoundTrip(t *testing.T) {
	c, stream := newTestChannel(t)
	startAndInit(t, c, stream, map[string]string{"TypedDataCollectionSupported": "1"})

	fn := &FunctionMetadata{FunctionID: "F1", Name: "f1"}
	loadFunction(t, c, stream, fn, fnrpc.StatusResult{Status: fnrpc.StatusSuccess})

	ictx := NewScriptInvocationContext("I1", fn)
	require.True(t, c.Enqueue(ictx))

	invReq := stream.hostSent(t)
	require.Equal(t, fnrpc.ContentInvocationRequest, invReq.Content)
	require.Equal(t, "I1", invReq.InvocationRequest.InvocationID)

	outputData := &fnrpc.TypedData{Case: fnrpc.TypedDataString, String: "hello"}
	stream.inbound <- &fnrpc.StreamingMessage{
		Content: fnrpc.ContentInvocationResponse,
		InvocationResponse: &fnrpc.InvocationResponse{
			InvocationID: "I1",
			Result:       fnrpc.StatusResult{Status: fnrpc.StatusSuccess},
			OutputData:   []fnrpc.ParameterBinding{{Name: "out", Data: outputData}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := ictx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Outputs["out"])
}

func TestStartTimeoutFailsStartupAndPublishesWorkerError(t *testing.T) {
	orig := startupTimeout
	startupTimeout = 30 * time.Millisecond
	t.Cleanup(func() { startupTimeout = orig })

	c, _ := newTestChannel(t)

	errs := eventbus.SubscribeType[WorkerErrorEvent](c.bus, nil)
	defer c.bus.Unsubscribe(errs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	settlement := c.StartWorkerProcessAsync(ctx, func() error { return nil })
	err := settlement.Wait(ctx)
	require.Error(t, err)

	select {
	case <-errs.C():
	case <-time.After(time.Second):
		t.Fatal("expected a WorkerErrorEvent after startup timeout")
	}
	assert.Equal(t, StateFailed, c.State())
}

func TestLoadFailureShortCircuitsInvocationWithoutSendingRequest(t *testing.T) {
	c, stream := newTestChannel(t)
	startAndInit(t, c, stream, nil)

	fn := &FunctionMetadata{FunctionID: "F2", Name: "f2"}
	loadFunction(t, c, stream, fn, fnrpc.StatusResult{
		Status: fnrpc.StatusFailure,
		Result: "syntax error",
	})

	ictx := NewScriptInvocationContext("I2", fn)
	require.True(t, c.Enqueue(ictx))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ictx.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")

	select {
	case msg := <-stream.outbound:
		t.Fatalf("expected no InvocationRequest for a function with a load error, got %v", msg.Content)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConcurrentInvocationsRespectDispatchDegree(t *testing.T) {
	c, stream := newTestChannel(t)
	startAndInit(t, c, stream, nil)

	fn := &FunctionMetadata{FunctionID: "F1", Name: "f1"}
	loadFunction(t, c, stream, fn, fnrpc.StatusResult{Status: fnrpc.StatusSuccess})

	const total = 20
	contexts := make([]*ScriptInvocationContext, total)
	for i := 0; i < total; i++ {
		contexts[i] = NewScriptInvocationContext(invocationID(i), fn)
		require.True(t, c.Enqueue(contexts[i]))
	}

	// Drain exactly dispatchDegree outstanding requests and confirm no
	// more show up until responses are returned for some of them.
	received := make([]*fnrpc.StreamingMessage, 0, dispatchDegree)
	for i := 0; i < dispatchDegree; i++ {
		received = append(received, stream.hostSent(t))
	}

	select {
	case msg := <-stream.outbound:
		t.Fatalf("more than %d requests outstanding: got an extra %v", dispatchDegree, msg.Content)
	case <-time.After(100 * time.Millisecond):
	}

	// Responding to one outstanding request frees exactly one worker,
	// which immediately dequeues the next context — so draining the
	// remaining total-dispatchDegree contexts means replying to one
	// received request at a time and reading the one it unblocks.
	pending := received
	for answered := 0; answered < total; answered++ {
		msg := pending[0]
		pending = pending[1:]

		stream.inbound <- &fnrpc.StreamingMessage{
			Content: fnrpc.ContentInvocationResponse,
			InvocationResponse: &fnrpc.InvocationResponse{
				InvocationID: msg.InvocationRequest.InvocationID,
				Result:       fnrpc.StatusResult{Status: fnrpc.StatusSuccess},
			},
		}

		if answered < total-dispatchDegree {
			pending = append(pending, stream.hostSent(t))
		}
	}
}

func TestRpcLogRoutesThroughInvocationLoggerAndChannelLogger(t *testing.T) {
	c, stream := newTestChannel(t)
	startAndInit(t, c, stream, nil)

	fn := &FunctionMetadata{FunctionID: "F3", Name: "f3"}
	loadFunction(t, c, stream, fn, fnrpc.StatusResult{Status: fnrpc.StatusSuccess})

	ictx := NewScriptInvocationContext("I3", fn)
	require.True(t, c.Enqueue(ictx))
	stream.hostSent(t) // the InvocationRequest; log routing doesn't need a response

	// Invocation-scoped log.
	stream.inbound <- &fnrpc.StreamingMessage{
		Content: fnrpc.ContentRpcLog,
		RpcLog: &fnrpc.RpcLog{
			InvocationID: "I3",
			Level:        fnrpc.LogWarning,
			Message:      "hi",
		},
	}
	// Channel-level log (no invocation id).
	stream.inbound <- &fnrpc.StreamingMessage{
		Content: fnrpc.ContentRpcLog,
		RpcLog: &fnrpc.RpcLog{
			Level:   fnrpc.LogInformation,
			Message: "channel-level",
		},
	}

	// Both are routed without error; there is no observable channel-side
	// failure to assert beyond the correlation table still holding I3
	// (a log must never complete or drop an in-flight invocation).
	time.Sleep(20 * time.Millisecond)
	_, stillPending := c.correlation.Peek("I3")
	assert.True(t, stillPending)
}

func TestEnvironmentReloadResolvesTrueAndReturnsToInitialized(t *testing.T) {
	c, stream := newTestChannel(t)
	startAndInit(t, c, stream, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	settlement := c.SendFunctionEnvironmentReloadRequest(ctx)
	assert.Equal(t, StateReloading, c.State())

	reloadReq := stream.hostSent(t)
	require.Equal(t, fnrpc.ContentFunctionEnvironmentReloadRequest, reloadReq.Content)

	stream.inbound <- &fnrpc.StreamingMessage{
		Content: fnrpc.ContentFunctionEnvironmentReloadResponse,
		FunctionEnvironmentReloadResponse: &fnrpc.FunctionEnvironmentReloadResponse{
			Result: fnrpc.StatusResult{Status: fnrpc.StatusSuccess},
		},
	}

	ok, err := settlement.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateInitialized, c.State())
}

func invocationID(i int) string {
	return "I" + string(rune('a'+i))
}
