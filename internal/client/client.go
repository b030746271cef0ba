// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package client is the thin RPC wrapper every tpar CLI subcommand dials
// through: one method per server-side RPC, so cmd/tpar's subcommands
// stay free of wire detail.
package client

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/taskpar/tpar/internal/proto"
	"github.com/taskpar/tpar/internal/rpc"
)

// Client issues RPCs against one tpar server connection.
type Client struct {
	conn *rpc.Conn
}

// Dial connects to addr ("host:port") and returns a Client wrapping the
// resulting connection. Callers must Close it when done.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: rpc.NewConn(nc)}, nil
}

// NewForConn wraps an already-established rpc.Conn as a Client, letting
// tests skip the network dial.
func NewForConn(conn *rpc.Conn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// EnqueueParams collects an enqueue call's arguments.
type EnqueueParams struct {
	Name       string
	Priority   int
	Command    string
	Args       []string
	Dir        string
	Env        map[string]string
	Watch      bool
	StdoutPath string
	StderrPath string
}

// Enqueue submits a new job and returns the id the server assigned.
func (c *Client) Enqueue(ctx context.Context, p EnqueueParams) (uint64, error) {
	var reply proto.EnqueueReply
	req := proto.EnqueueRequest{
		Name: p.Name, Priority: p.Priority, Command: p.Command, Args: p.Args,
		Dir: p.Dir, Env: p.Env, Watch: p.Watch,
		StdoutPath: p.StdoutPath, StderrPath: p.StderrPath,
	}
	if err := c.conn.Call(ctx, proto.MethodEnqueue, req, &reply); err != nil {
		return 0, err
	}
	return reply.Id, nil
}

// Status returns every job matching filter (a jobmatch expression; empty
// matches all).
func (c *Client) Status(ctx context.Context, filter string) ([]proto.JobDTO, error) {
	var reply proto.StatusReply
	if err := c.conn.Call(ctx, proto.MethodStatus, proto.StatusRequest{Filter: filter}, &reply); err != nil {
		return nil, err
	}
	return reply.Jobs, nil
}

// Kill kills every job matching filter, returning the ids actually
// transitioned to Killed.
func (c *Client) Kill(ctx context.Context, filter string) ([]uint64, error) {
	var reply proto.KillReply
	if err := c.conn.Call(ctx, proto.MethodKill, proto.KillRequest{Filter: filter}, &reply); err != nil {
		return nil, err
	}
	return reply.KilledIds, nil
}

// Rerun re-enqueues every terminal job matching filter, returning the
// fresh ids created.
func (c *Client) Rerun(ctx context.Context, filter string) ([]uint64, error) {
	var reply proto.RerunReply
	if err := c.conn.Call(ctx, proto.MethodRerun, proto.RerunRequest{Filter: filter}, &reply); err != nil {
		return nil, err
	}
	return reply.NewIds, nil
}

// WatchResult is the terminal outcome of a watched job.
type WatchResult struct {
	ExitCode int
	Failed   bool
	ErrorMsg string
}

// Watch subscribes to jobId's output stream, writing stdout chunks to out
// and stderr chunks to errOut as they arrive, and returns once the job's
// terminal outcome is pushed.
func (c *Client) Watch(ctx context.Context, jobId uint64, out, errOut io.Writer) (WatchResult, error) {
	items, finalErr := c.conn.Stream(ctx, proto.MethodWatch, proto.WatchRequest{JobId: jobId})

	var result WatchResult
	for decode := range items {
		var push proto.WatchPush
		if err := decode(&push); err != nil {
			return result, err
		}
		if push.Done {
			result = WatchResult{ExitCode: push.ExitCode, Failed: push.Failed, ErrorMsg: push.ErrorMsg}
			continue
		}
		w := out
		if push.Stream == 1 {
			w = errOut
		}
		if w != nil {
			if _, err := w.Write(push.Data); err != nil {
				return result, err
			}
		}
	}
	if err := finalErr(); err != nil {
		return result, err
	}
	return result, nil
}
