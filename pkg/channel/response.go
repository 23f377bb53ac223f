package channel

import (
	"time"

	"github.com/cuemby/fnchannel/pkg/convert"
	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/cuemby/fnchannel/pkg/metrics"
	"github.com/rs/zerolog"
)

// onInvocationResponse completes the correlated invocation's promise.
// A response with no matching correlation-table entry is a duplicate or
// arrived after cancellation and is dropped silently.
func (c *Channel) onInvocationResponse(msg *fnrpc.StreamingMessage) {
	resp := msg.InvocationResponse
	if resp == nil {
		return
	}

	ictx, ok := c.correlation.Remove(resp.InvocationID)
	metrics.CorrelationTableSize.Set(float64(c.correlation.Len()))
	if !ok {
		return
	}

	functionID := ""
	if ictx.Function != nil {
		functionID = ictx.Function.FunctionID
	}
	elapsed := time.Since(ictx.dispatchedAt).Seconds()

	if resp.Result.Status != fnrpc.StatusSuccess {
		err := statusError(functionID, resp.InvocationID, resp.Result)
		ictx.complete(Result{}, err)
		metrics.InvocationDuration.WithLabelValues(functionID, "failure").Observe(elapsed)
		metrics.InvocationsTotal.WithLabelValues(functionID, "failure").Inc()
		return
	}

	outputs, returnValue, err := materializeResult(resp)
	if err != nil {
		ictx.complete(Result{}, err)
		metrics.InvocationDuration.WithLabelValues(functionID, "conversion_error").Observe(elapsed)
		metrics.InvocationsTotal.WithLabelValues(functionID, "conversion_error").Inc()
		return
	}

	ictx.complete(Result{Outputs: outputs, ReturnValue: returnValue}, nil)
	metrics.InvocationDuration.WithLabelValues(functionID, "success").Observe(elapsed)
	metrics.InvocationsTotal.WithLabelValues(functionID, "success").Inc()
}

func materializeResult(resp *fnrpc.InvocationResponse) (outputs map[string]any, returnValue any, err error) {
	outputs = make(map[string]any, len(resp.OutputData))
	for _, binding := range resp.OutputData {
		v, convErr := convert.FromWire(binding.Data)
		if convErr != nil {
			return nil, nil, convErr
		}
		outputs[binding.Name] = v
	}

	if resp.ReturnValue != nil {
		v, convErr := convert.FromWire(resp.ReturnValue)
		if convErr != nil {
			return nil, nil, convErr
		}
		returnValue = v
	}

	return outputs, returnValue, nil
}

// onRpcLog replays a worker-emitted log line under the invocation's own
// logger when one is correlated, or the channel logger otherwise. A log
// never fails an invocation — any missing correlation just falls back to
// the channel-scoped logger.
func (c *Channel) onRpcLog(msg *fnrpc.StreamingMessage) {
	entry := msg.RpcLog
	if entry == nil {
		return
	}
	metrics.RpcLogsTotal.WithLabelValues(string(entry.Level)).Inc()

	logger := c.logger
	if entry.InvocationID != "" {
		if ictx, ok := c.correlation.Peek(entry.InvocationID); ok {
			logger = ictx.Logger
		}
	}

	event := logEventForLevel(logger, entry.Level)
	if entry.Exception != nil {
		event = event.Str("stack_trace", entry.Exception.StackTrace)
	}
	event.Msg(entry.Message)
}

func logEventForLevel(logger zerolog.Logger, level fnrpc.RpcLogLevel) *zerolog.Event {
	switch level {
	case fnrpc.LogTrace:
		return logger.Trace()
	case fnrpc.LogDebug:
		return logger.Debug()
	case fnrpc.LogInformation:
		return logger.Info()
	case fnrpc.LogWarning:
		return logger.Warn()
	case fnrpc.LogError, fnrpc.LogCritical:
		return logger.Error()
	default:
		return logger.Info()
	}
}

// statusError converts a failed StatusResult into a WorkerError,
// preferring the worker's exception (message + stack trace) when given.
func statusError(functionID, invocationID string, sr fnrpc.StatusResult) error {
	if sr.Exception != nil {
		return NewWorkerError(functionID, invocationID, sr.Exception.Message, sr.Exception.StackTrace)
	}
	return NewWorkerError(functionID, invocationID, sr.Result, "")
}
