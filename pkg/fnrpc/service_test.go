package fnrpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type echoServer struct{}

func (echoServer) EventStream(stream fnrpc.FunctionRpc_EventStreamServer) error {
	msg, err := stream.Recv()
	if err != nil {
		return err
	}
	reply := &fnrpc.StreamingMessage{
		RequestID: msg.RequestID,
		Content:   fnrpc.ContentWorkerInitResponse,
		WorkerInitResponse: &fnrpc.WorkerInitResponse{
			Result:       fnrpc.StatusResult{Status: fnrpc.StatusSuccess},
			Capabilities: map[string]string{"TypedDataCollectionSupported": "1"},
		},
	}
	return stream.Send(reply)
}

func dial(t *testing.T) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	srv := grpc.NewServer()
	fnrpc.RegisterFunctionRpcServer(srv, echoServer{})
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	return conn, func() {
		_ = conn.Close()
		srv.Stop()
	}
}

func TestEventStreamRoundTrip(t *testing.T) {
	conn, cleanup := dial(t)
	defer cleanup()

	client := fnrpc.NewFunctionRpcClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.EventStream(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.Send(&fnrpc.StreamingMessage{
		RequestID: "r1",
		Content:   fnrpc.ContentWorkerInitRequest,
		WorkerInitRequest: &fnrpc.WorkerInitRequest{
			HostVersion: "1.0.0",
		},
	}))

	reply, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, fnrpc.ContentWorkerInitResponse, reply.Content)
	require.Equal(t, fnrpc.StatusSuccess, reply.WorkerInitResponse.Result.Status)
	require.Equal(t, "1", reply.WorkerInitResponse.Capabilities["TypedDataCollectionSupported"])
}
