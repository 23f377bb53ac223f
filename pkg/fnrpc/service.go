package fnrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName and EventStreamMethod identify the single streaming RPC
// this package exposes, matching the shape protoc-gen-go-grpc would
// have produced from a one-method, one-service .proto file.
const (
	ServiceName       = "fnrpc.FunctionRpc"
	EventStreamMethod = "/fnrpc.FunctionRpc/EventStream"
)

// FunctionRpcServer is implemented by the host side of the channel to
// accept the worker's bidirectional stream.
type FunctionRpcServer interface {
	EventStream(stream FunctionRpc_EventStreamServer) error
}

// FunctionRpc_EventStreamServer is the server's view of the stream.
type FunctionRpc_EventStreamServer interface {
	Send(*StreamingMessage) error
	Recv() (*StreamingMessage, error)
	grpc.ServerStream
}

type functionRpcEventStreamServer struct {
	grpc.ServerStream
}

func (x *functionRpcEventStreamServer) Send(m *StreamingMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *functionRpcEventStreamServer) Recv() (*StreamingMessage, error) {
	m := new(StreamingMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _FunctionRpc_EventStream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(FunctionRpcServer).EventStream(&functionRpcEventStreamServer{ServerStream: stream})
}

// ServiceDesc is the hand-maintained equivalent of what
// protoc-gen-go-grpc would emit for a service with one bidirectional
// streaming method. RegisterFunctionRpcServer registers it against a
// grpc.Server the same way generated code would.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FunctionRpcServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "EventStream",
			Handler:       _FunctionRpc_EventStream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "fnrpc",
}

// RegisterFunctionRpcServer registers srv as the handler for the
// FunctionRpc service on s.
func RegisterFunctionRpcServer(s grpc.ServiceRegistrar, srv FunctionRpcServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FunctionRpcClient is the client-side stub for the FunctionRpc service.
type FunctionRpcClient interface {
	EventStream(ctx context.Context, opts ...grpc.CallOption) (FunctionRpc_EventStreamClient, error)
}

type functionRpcClient struct {
	cc grpc.ClientConnInterface
}

// NewFunctionRpcClient builds a client stub bound to cc.
func NewFunctionRpcClient(cc grpc.ClientConnInterface) FunctionRpcClient {
	return &functionRpcClient{cc: cc}
}

func (c *functionRpcClient) EventStream(ctx context.Context, opts ...grpc.CallOption) (FunctionRpc_EventStreamClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], EventStreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &functionRpcEventStreamClient{ClientStream: stream}, nil
}

// FunctionRpc_EventStreamClient is the client's view of the stream.
type FunctionRpc_EventStreamClient interface {
	Send(*StreamingMessage) error
	Recv() (*StreamingMessage, error)
	grpc.ClientStream
}

type functionRpcEventStreamClient struct {
	grpc.ClientStream
}

func (x *functionRpcEventStreamClient) Send(m *StreamingMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *functionRpcEventStreamClient) Recv() (*StreamingMessage, error) {
	m := new(StreamingMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
