// Package fnrpc defines the wire messages exchanged between a channel and
// its worker process, and carries them over a real gRPC bidirectional
// stream without depending on a protoc-generated schema.
//
// The worker protocol this package models (one streaming RPC, a
// StreamingMessage envelope with a discriminated content case) comes
// from the same family as any generated gRPC service; what's hand-rolled
// here is the message set itself, not the transport. See ServiceDesc and
// the JSON Codec in codec.go for how a plain Go struct ends up on the
// wire in place of a protoc-gen-go message.
package fnrpc

// ContentCase names which field of a StreamingMessage is populated.
type ContentCase string

const (
	ContentStartStream                       ContentCase = "StartStream"
	ContentWorkerInitRequest                  ContentCase = "WorkerInitRequest"
	ContentWorkerInitResponse                 ContentCase = "WorkerInitResponse"
	ContentFunctionLoadRequest                ContentCase = "FunctionLoadRequest"
	ContentFunctionLoadResponse               ContentCase = "FunctionLoadResponse"
	ContentInvocationRequest                  ContentCase = "InvocationRequest"
	ContentInvocationResponse                 ContentCase = "InvocationResponse"
	ContentFunctionEnvironmentReloadRequest   ContentCase = "FunctionEnvironmentReloadRequest"
	ContentFunctionEnvironmentReloadResponse  ContentCase = "FunctionEnvironmentReloadResponse"
	ContentRpcLog                             ContentCase = "RpcLog"
)

// StreamingMessage is the single envelope type carried in both
// directions of FunctionRpc.EventStream. Exactly one of the pointer
// fields named by Content is non-nil.
type StreamingMessage struct {
	RequestID string      `json:"requestId,omitempty"`
	Content   ContentCase `json:"content"`

	StartStream                       *StartStream                       `json:"startStream,omitempty"`
	WorkerInitRequest                  *WorkerInitRequest                  `json:"workerInitRequest,omitempty"`
	WorkerInitResponse                 *WorkerInitResponse                 `json:"workerInitResponse,omitempty"`
	FunctionLoadRequest                *FunctionLoadRequest                `json:"functionLoadRequest,omitempty"`
	FunctionLoadResponse               *FunctionLoadResponse               `json:"functionLoadResponse,omitempty"`
	InvocationRequest                  *InvocationRequest                  `json:"invocationRequest,omitempty"`
	InvocationResponse                 *InvocationResponse                 `json:"invocationResponse,omitempty"`
	FunctionEnvironmentReloadRequest   *FunctionEnvironmentReloadRequest   `json:"functionEnvironmentReloadRequest,omitempty"`
	FunctionEnvironmentReloadResponse  *FunctionEnvironmentReloadResponse  `json:"functionEnvironmentReloadResponse,omitempty"`
	RpcLog                             *RpcLog                             `json:"rpcLog,omitempty"`
}

// StartStream signals the worker is ready to receive the init request.
type StartStream struct {
	WorkerID string `json:"workerId"`
}

// StatusCode is the outcome of a unit of work reported by the worker.
type StatusCode string

const (
	StatusSuccess   StatusCode = "Success"
	StatusFailure   StatusCode = "Failure"
	StatusCancelled StatusCode = "Cancelled"
)

// RpcException carries a worker-side error back to the host.
type RpcException struct {
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// StatusResult is the common success/failure envelope used by every
// response message.
type StatusResult struct {
	Status    StatusCode    `json:"status"`
	Result    string        `json:"result,omitempty"`
	Exception *RpcException `json:"exception,omitempty"`
}

// WorkerInitRequest carries the host version and begins capability
// negotiation.
type WorkerInitRequest struct {
	HostVersion string `json:"hostVersion"`
}

// WorkerInitResponse reports whether the worker initialized
// successfully and which capabilities it advertises.
type WorkerInitResponse struct {
	Result        StatusResult      `json:"result"`
	Capabilities  map[string]string `json:"capabilities,omitempty"`
	WorkerVersion string            `json:"workerVersion,omitempty"`
}

// BindingDirection is the data-flow direction of a function binding.
type BindingDirection string

const (
	BindingIn    BindingDirection = "in"
	BindingOut   BindingDirection = "out"
	BindingInOut BindingDirection = "inout"
)

// BindingInfo describes one named, directional binding on a function.
type BindingInfo struct {
	Name      string           `json:"name"`
	Direction BindingDirection `json:"direction"`
	Type      string           `json:"type"`
	DataType  string           `json:"dataType,omitempty"`
}

// RpcFunctionMetadata is the wire form of a function's registration
// descriptor.
type RpcFunctionMetadata struct {
	FunctionID               string        `json:"functionId"`
	Name                      string        `json:"name"`
	EntryPoint                string        `json:"entryPoint"`
	ScriptFile                string        `json:"scriptFile"`
	Directory                 string        `json:"directory"`
	IsProxy                   bool          `json:"isProxy,omitempty"`
	ManagedDependencyEnabled  bool          `json:"managedDependencyEnabled,omitempty"`
	Bindings                  []BindingInfo `json:"bindings,omitempty"`
}

// FunctionLoadRequest registers one function with the worker.
type FunctionLoadRequest struct {
	FunctionID string               `json:"functionId"`
	Metadata   RpcFunctionMetadata  `json:"metadata"`
}

// FunctionLoadResponse reports load success/failure for one function.
type FunctionLoadResponse struct {
	FunctionID string       `json:"functionId"`
	Result     StatusResult `json:"result"`
}

// ParameterBinding pairs a binding name with its wire value.
type ParameterBinding struct {
	Name string     `json:"name"`
	Data *TypedData `json:"data,omitempty"`
}

// InvocationRequest dispatches one function execution to the worker.
type InvocationRequest struct {
	InvocationID    string                `json:"invocationId"`
	FunctionID      string                `json:"functionId"`
	InputData       []ParameterBinding    `json:"inputData,omitempty"`
	TriggerMetadata map[string]*TypedData `json:"triggerMetadata,omitempty"`
}

// InvocationResponse carries the result of one function execution back
// from the worker.
type InvocationResponse struct {
	InvocationID string             `json:"invocationId"`
	Result       StatusResult       `json:"result"`
	OutputData   []ParameterBinding `json:"outputData,omitempty"`
	ReturnValue  *TypedData         `json:"returnValue,omitempty"`
}

// FunctionEnvironmentReloadRequest snapshots the host's environment
// variables for the worker to adopt without a restart.
type FunctionEnvironmentReloadRequest struct {
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty"`
}

// FunctionEnvironmentReloadResponse reports the outcome of a reload and
// any capabilities that changed as a result.
type FunctionEnvironmentReloadResponse struct {
	Result       StatusResult      `json:"result"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

// RpcLogLevel mirrors the standard set of worker log severities.
type RpcLogLevel string

const (
	LogTrace       RpcLogLevel = "Trace"
	LogDebug       RpcLogLevel = "Debug"
	LogInformation RpcLogLevel = "Information"
	LogWarning     RpcLogLevel = "Warning"
	LogError       RpcLogLevel = "Error"
	LogCritical    RpcLogLevel = "Critical"
)

// RpcLog is a single log entry relayed from the worker. InvocationID is
// empty for channel-level (not invocation-scoped) log entries.
type RpcLog struct {
	InvocationID string        `json:"invocationId,omitempty"`
	Category     string        `json:"category,omitempty"`
	Message      string        `json:"message"`
	Level        RpcLogLevel   `json:"level"`
	Exception    *RpcException `json:"exception,omitempty"`
}
