package rpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskpar/tpar/internal/proto"
	"github.com/taskpar/tpar/internal/rpc"
)

func pipeConns() (*rpc.Conn, *rpc.Conn) {
	a, b := net.Pipe()
	return rpc.NewConn(a), rpc.NewConn(b)
}

func TestCallReceivesSyncReply(t *testing.T) {
	client, server := pipeConns()
	defer client.Close()
	defer server.Close()

	server.Handle(proto.MethodEnqueue, func(ctx context.Context, decode func(v any) error) (any, error) {
		var req proto.EnqueueRequest
		require.NoError(t, decode(&req))
		require.Equal(t, "build", req.Name)
		return proto.EnqueueReply{Id: 42}, nil
	})

	var reply proto.EnqueueReply
	err := client.Call(context.Background(), proto.MethodEnqueue, proto.EnqueueRequest{Name: "build"}, &reply)
	require.NoError(t, err)
	require.Equal(t, uint64(42), reply.Id)
}

func TestCallPropagatesHandlerError(t *testing.T) {
	client, server := pipeConns()
	defer client.Close()
	defer server.Close()

	server.Handle(proto.MethodKill, func(ctx context.Context, decode func(v any) error) (any, error) {
		return nil, errNoMatch
	})

	var reply proto.KillReply
	err := client.Call(context.Background(), proto.MethodKill, proto.KillRequest{Filter: "id:99"}, &reply)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no match")
}

var errNoMatch = errNoMatchType{}

type errNoMatchType struct{}

func (errNoMatchType) Error() string { return "no match" }

func TestCallWithoutHandlerReturnsError(t *testing.T) {
	client, server := pipeConns()
	defer client.Close()
	defer server.Close()

	var reply proto.StatusReply
	err := client.Call(context.Background(), proto.MethodStatus, proto.StatusRequest{}, &reply)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no handler")
}

func TestCallRespectsContextTimeout(t *testing.T) {
	client, server := pipeConns()
	defer client.Close()
	defer server.Close()

	block := make(chan struct{})
	defer close(block)
	server.Handle(proto.MethodRequestJob, func(ctx context.Context, decode func(v any) error) (any, error) {
		<-block
		return proto.RequestJobReply{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var reply proto.RequestJobReply
	err := client.Call(ctx, proto.MethodRequestJob, proto.RequestJobRequest{WorkerId: "w1"}, &reply)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamDeliversPushesThenEnds(t *testing.T) {
	client, server := pipeConns()
	defer client.Close()
	defer server.Close()

	server.HandleStream(proto.MethodWatch, func(ctx context.Context, decode func(v any) error, push rpc.Pusher) {
		var req proto.WatchRequest
		require.NoError(t, decode(&req))
		for i := 0; i < 3; i++ {
			push.Push(proto.WatchPush{Stream: 0, Data: []byte{byte('a' + i)}})
		}
		push.End(nil)
	})

	items, finalErr := client.Stream(context.Background(), proto.MethodWatch, proto.WatchRequest{JobId: 7})

	var chunks []string
	for decode := range items {
		var c proto.WatchPush
		require.NoError(t, decode(&c))
		chunks = append(chunks, string(c.Data))
	}
	require.NoError(t, finalErr())
	require.Equal(t, []string{"a", "b", "c"}, chunks)
}

func TestStreamPropagatesHandlerFailure(t *testing.T) {
	client, server := pipeConns()
	defer client.Close()
	defer server.Close()

	server.HandleStream(proto.MethodWatch, func(ctx context.Context, decode func(v any) error, push rpc.Pusher) {
		push.End(errStreamFailed{})
	})

	items, finalErr := client.Stream(context.Background(), proto.MethodWatch, proto.WatchRequest{JobId: 1})
	for range items {
	}
	require.Error(t, finalErr())
}

type errStreamFailed struct{}

func (errStreamFailed) Error() string { return "stream failed" }
