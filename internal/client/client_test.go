package client_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskpar/tpar/internal/client"
	"github.com/taskpar/tpar/internal/proto"
	"github.com/taskpar/tpar/internal/rpc"
)

// pipedClient wires a client.Client to an in-process rpc.Conn over
// net.Pipe, so these tests exercise the wire format without a real TCP
// listener.
func pipedClient(t *testing.T) (*client.Client, *rpc.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	serverConn := rpc.NewConn(serverSide)
	t.Cleanup(func() { serverConn.Close() })

	cc := rpc.NewConn(clientSide)
	t.Cleanup(func() { cc.Close() })

	return client.NewForConn(cc), serverConn
}

func TestEnqueueReturnsServerAssignedId(t *testing.T) {
	c, serverConn := pipedClient(t)
	serverConn.Handle(proto.MethodEnqueue, func(ctx context.Context, decode func(v any) error) (any, error) {
		var req proto.EnqueueRequest
		require.NoError(t, decode(&req))
		require.Equal(t, "build", req.Name)
		return proto.EnqueueReply{Id: 7}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := c.Enqueue(ctx, client.EnqueueParams{Name: "build", Command: "sh"})
	require.NoError(t, err)
	require.Equal(t, uint64(7), id)
}

func TestStatusReturnsJobs(t *testing.T) {
	c, serverConn := pipedClient(t)
	serverConn.Handle(proto.MethodStatus, func(ctx context.Context, decode func(v any) error) (any, error) {
		return proto.StatusReply{Jobs: []proto.JobDTO{{Id: 1, Name: "a"}, {Id: 2, Name: "b"}}}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	jobs, err := c.Status(ctx, "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestKillReturnsKilledIds(t *testing.T) {
	c, serverConn := pipedClient(t)
	serverConn.Handle(proto.MethodKill, func(ctx context.Context, decode func(v any) error) (any, error) {
		var req proto.KillRequest
		require.NoError(t, decode(&req))
		require.Equal(t, "id:3", req.Filter)
		return proto.KillReply{KilledIds: []uint64{3}}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ids, err := c.Kill(ctx, "id:3")
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, ids)
}

func TestRerunReturnsNewIds(t *testing.T) {
	c, serverConn := pipedClient(t)
	serverConn.Handle(proto.MethodRerun, func(ctx context.Context, decode func(v any) error) (any, error) {
		return proto.RerunReply{NewIds: []uint64{9}}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ids, err := c.Rerun(ctx, "state:failed")
	require.NoError(t, err)
	require.Equal(t, []uint64{9}, ids)
}

func TestWatchDemultiplexesStreamsAndReturnsExitCode(t *testing.T) {
	c, serverConn := pipedClient(t)
	serverConn.HandleStream(proto.MethodWatch, func(ctx context.Context, decode func(v any) error, push rpc.Pusher) {
		var req proto.WatchRequest
		require.NoError(t, decode(&req))
		require.NoError(t, push.Push(proto.WatchPush{Stream: 0, Data: []byte("out\n")}))
		require.NoError(t, push.Push(proto.WatchPush{Stream: 1, Data: []byte("err\n")}))
		require.NoError(t, push.Push(proto.WatchPush{Done: true, ExitCode: 3}))
		require.NoError(t, push.End(nil))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out, errOut bytes.Buffer
	result, err := c.Watch(ctx, 1, &out, &errOut)
	require.NoError(t, err)
	require.Equal(t, 3, result.ExitCode)
	require.Equal(t, "out\n", out.String())
	require.Equal(t, "err\n", errOut.String())
}
