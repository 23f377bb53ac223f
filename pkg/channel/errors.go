package channel

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrTransportFailed marks a failed transport. Its message prefixes the
// low-level I/O cause in the WorkerErrorEvent a failing transport
// publishes (see newTransportFailedError), and in-flight
// correlation-table entries are completed with this sentinel itself
// rather than abandoned, so a caller waiting on
// ScriptInvocationContext.Wait never hangs past a dead transport.
var ErrTransportFailed = errors.New("channel: transport failed")

// ErrStartupTimeout names a worker startup that timed out. The startup
// path does not return it: a StartStream or WorkerInitResponse timeout
// settles the startup promise with the demultiplexer's own timeout
// error instead.
var ErrStartupTimeout = errors.New("channel: startup timed out")

// WorkerError carries a worker-reported failure (invocation failure,
// function load failure) with its original message and stack trace
// preserved as the error's cause, so callers can still retrieve the
// worker's own stack via errors.Cause.
type WorkerError struct {
	FunctionID   string
	InvocationID string
	Message      string
	StackTrace   string
	cause        error
}

func (e *WorkerError) Error() string {
	if e.InvocationID != "" {
		return fmt.Sprintf("worker error for invocation %s: %s", e.InvocationID, e.Message)
	}
	if e.FunctionID != "" {
		return fmt.Sprintf("worker error loading function %s: %s", e.FunctionID, e.Message)
	}
	return fmt.Sprintf("worker error: %s", e.Message)
}

func (e *WorkerError) Cause() error { return e.cause }
func (e *WorkerError) Unwrap() error { return e.cause }

// NewWorkerError builds a WorkerError, attaching the worker's stack
// trace (if any) as the error chain's cause via pkg/errors so
// errors.Cause(err) surfaces it even through further wrapping.
func NewWorkerError(functionID, invocationID, message, stackTrace string) *WorkerError {
	var cause error
	if stackTrace != "" {
		cause = errors.New(stackTrace)
	} else {
		cause = errors.New(message)
	}
	return &WorkerError{
		FunctionID:   functionID,
		InvocationID: invocationID,
		Message:      message,
		StackTrace:   stackTrace,
		cause:        cause,
	}
}

// newTransportFailedError wraps the low-level transport cause so
// errors.Cause(err) returns the original I/O error.
func newTransportFailedError(cause error) error {
	return errors.Wrap(cause, ErrTransportFailed.Error())
}
