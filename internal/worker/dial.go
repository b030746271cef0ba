package worker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskpar/tpar/clog"
	"github.com/taskpar/tpar/internal/proto"
	"github.com/taskpar/tpar/internal/rpc"
)

// RunOptions configures one worker's connection to a server.
type RunOptions struct {
	Addr string // "host:port"
	Id   string

	// Reconnect, when non-zero, makes Run retry the connection with
	// exponential backoff capped at this interval (`-r/--reconnect
	// [SECONDS]`) instead of returning on the first transport failure.
	Reconnect time.Duration
}

var dialLog = clog.New("worker-dial ")

// Run dials opts.Addr, sends Hello, and runs a Worker against the
// resulting connection until ctx is done. If opts.Reconnect is non-zero,
// a dropped connection is retried with exponential backoff capped at
// opts.Reconnect between attempts instead of returning an error.
func Run(ctx context.Context, opts RunOptions) error {
	if opts.Reconnect <= 0 {
		return runOnce(ctx, opts)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = opts.Reconnect
	bo.MaxElapsedTime = 0 // retry forever until ctx is done

	return backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := runOnce(ctx, opts)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			dialLog.Printf("connection to %s lost: %v, reconnecting", opts.Addr, err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func runOnce(ctx context.Context, opts RunOptions) error {
	dialer := net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("worker: dial %s: %w", opts.Addr, err)
	}

	conn := rpc.NewConn(nc)
	defer conn.Close()

	source := NewRemoteSource(conn)

	var helloReply proto.HelloReply
	if err := conn.Call(ctx, proto.MethodHello, proto.HelloRequest{WorkerId: opts.Id}, &helloReply); err != nil {
		return fmt.Errorf("worker: hello: %w", err)
	}

	w := New(opts.Id, source)
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case <-conn.Done():
		return fmt.Errorf("worker: connection to %s closed", opts.Addr)
	case <-ctx.Done():
		return ctx.Err()
	}
}
