// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package rpc implements a typed request/reply primitive over a single
// internal/wire-framed net.Conn: a correlation-id-keyed call/reply
// exchange, plus a push/stream extension used for the server's live
// output watch.
package rpc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/taskpar/tpar/internal/proto"
	"github.com/taskpar/tpar/internal/wire"
)

// envelopeKind tags each frame exchanged over a Conn.
type envelopeKind byte

const (
	kindCall envelopeKind = iota
	kindReply
	kindErrorReply
	kindPush
	kindPushEnd
)

// frameBody is the gob-encoded payload of every frame; Payload holds a
// second, method-specific gob encoding produced by the caller or handler.
type frameBody struct {
	CorrId  uint64
	Method  proto.Method
	Payload []byte
	ErrMsg  string
}

// Handler synchronously answers a call, returning the reply value to
// encode and send back.
type Handler func(ctx context.Context, decode func(v any) error) (reply any, err error)

// Pusher lets a StreamHandler deliver zero or more push frames before
// ending the stream exactly once.
type Pusher interface {
	Push(v any) error
	End(finalErr error) error
}

// StreamHandler answers a call with zero or more pushed values followed by
// a terminal End.
type StreamHandler func(ctx context.Context, decode func(v any) error, push Pusher)

// Conn is one RPC peer's view of a connection: it can issue calls and, if
// handlers are registered, answer them.
type Conn struct {
	rwc io.ReadWriteCloser

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[uint64]chan frameBody
	streams  map[uint64]chan frameBody
	handlers map[proto.Method]Handler
	streamH  map[proto.Method]StreamHandler
	nextCorr uint64

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConn wraps rwc (typically a net.Conn) as an RPC peer and starts its
// read loop. Call Close to stop the loop and release the underlying
// connection.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	c := &Conn{
		rwc:      rwc,
		pending:  make(map[uint64]chan frameBody),
		streams:  make(map[uint64]chan frameBody),
		handlers: make(map[proto.Method]Handler),
		streamH:  make(map[proto.Method]StreamHandler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Handle registers a synchronous handler for method. Must be called before
// the peer starts sending calls of that method.
func (c *Conn) Handle(method proto.Method, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// HandleStream registers a streaming handler for method.
func (c *Conn) HandleStream(method proto.Method, h StreamHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamH[method] = h
}

// Close shuts down the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// Done is closed once the connection's read loop has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) writeFrame(kind envelopeKind, body frameBody) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteMessage(c.rwc, byte(kind), body)
}

// Call sends req to method and blocks until a reply arrives, ctx is done,
// or the connection closes. reply must be a pointer to the expected reply
// type.
func (c *Conn) Call(ctx context.Context, method proto.Method, req any, reply any) error {
	payload, err := wire.Encode(req)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}

	id := atomic.AddUint64(&c.nextCorr, 1)
	ch := make(chan frameBody, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(kindCall, frameBody{CorrId: id, Method: method, Payload: payload}); err != nil {
		return fmt.Errorf("rpc: send call: %w", err)
	}

	select {
	case fb := <-ch:
		if fb.ErrMsg != "" {
			return fmt.Errorf("rpc: %s: %s", method, fb.ErrMsg)
		}
		if reply != nil {
			return wire.Decode(fb.Payload, reply)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return io.ErrClosedPipe
	}
}

// streamPusher delivers push/pushEnd frames for one in-flight streaming
// call, server side.
type streamPusher struct {
	c      *Conn
	corrId uint64
	method proto.Method
	ended  bool
}

func (p *streamPusher) Push(v any) error {
	payload, err := wire.Encode(v)
	if err != nil {
		return err
	}
	return p.c.writeFrame(kindPush, frameBody{CorrId: p.corrId, Method: p.method, Payload: payload})
}

func (p *streamPusher) End(finalErr error) error {
	if p.ended {
		return nil
	}
	p.ended = true
	fb := frameBody{CorrId: p.corrId, Method: p.method}
	if finalErr != nil {
		fb.ErrMsg = finalErr.Error()
	}
	return p.c.writeFrame(kindPushEnd, fb)
}

// Stream issues a streaming call and returns a channel of decode functions
// for each pushed value, closed once the stream ends. The returned error
// function reports the terminal error, if any, once the channel closes.
func (c *Conn) Stream(ctx context.Context, method proto.Method, req any) (<-chan func(v any) error, func() error) {
	out := make(chan func(v any) error)
	var terminalErr error

	payload, err := wire.Encode(req)
	if err != nil {
		terminalErr = fmt.Errorf("rpc: encode request: %w", err)
		close(out)
		return out, func() error { return terminalErr }
	}

	id := atomic.AddUint64(&c.nextCorr, 1)
	ch := make(chan frameBody, 16)
	c.mu.Lock()
	c.streams[id] = ch
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.streams, id)
			c.mu.Unlock()
			close(out)
		}()
		for {
			select {
			case fb, ok := <-ch:
				if !ok {
					return
				}
				if fb.ErrMsg != "" {
					terminalErr = fmt.Errorf("rpc: %s: %s", method, fb.ErrMsg)
					return
				}
				payload := fb.Payload
				out <- func(v any) error { return wire.Decode(payload, v) }
			case <-ctx.Done():
				terminalErr = ctx.Err()
				return
			case <-c.done:
				terminalErr = io.ErrClosedPipe
				return
			}
		}
	}()

	if err := c.writeFrame(kindCall, frameBody{CorrId: id, Method: method, Payload: payload}); err != nil {
		terminalErr = fmt.Errorf("rpc: send call: %w", err)
	}

	return out, func() error { return terminalErr }
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		tag, raw, err := wire.ReadMessage(c.rwc)
		if err != nil {
			return
		}
		var fb frameBody
		if err := wire.Decode(raw, &fb); err != nil {
			continue
		}
		kind := envelopeKind(tag)
		switch kind {
		case kindReply, kindErrorReply:
			c.mu.Lock()
			ch := c.pending[fb.CorrId]
			c.mu.Unlock()
			if ch != nil {
				if kind == kindErrorReply && fb.ErrMsg == "" {
					fb.ErrMsg = "unknown error"
				}
				ch <- fb
			}
		case kindPush:
			c.mu.Lock()
			ch := c.streams[fb.CorrId]
			c.mu.Unlock()
			if ch != nil {
				ch <- fb
			}
		case kindPushEnd:
			c.mu.Lock()
			ch := c.streams[fb.CorrId]
			c.mu.Unlock()
			if ch != nil {
				if fb.ErrMsg != "" {
					ch <- fb
				}
				close(ch)
			}
		case kindCall:
			c.dispatchCall(fb)
		}
	}
}

func (c *Conn) dispatchCall(fb frameBody) {
	c.mu.Lock()
	sh, isStream := c.streamH[fb.Method]
	h, isSync := c.handlers[fb.Method]
	c.mu.Unlock()

	decode := func(v any) error { return wire.Decode(fb.Payload, v) }

	// The handler's context is canceled once the connection closes.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if isStream {
		go func() { defer cancel(); sh(ctx, decode, &streamPusher{c: c, corrId: fb.CorrId, method: fb.Method}) }()
		return
	}
	if isSync {
		go func() {
			defer cancel()
			reply, err := h(ctx, decode)
			if err != nil {
				c.writeFrame(kindErrorReply, frameBody{CorrId: fb.CorrId, Method: fb.Method, ErrMsg: err.Error()})
				return
			}
			payload, encErr := wire.Encode(reply)
			if encErr != nil {
				c.writeFrame(kindErrorReply, frameBody{CorrId: fb.CorrId, Method: fb.Method, ErrMsg: encErr.Error()})
				return
			}
			c.writeFrame(kindReply, frameBody{CorrId: fb.CorrId, Method: fb.Method, Payload: payload})
		}()
		return
	}
	cancel()
	c.writeFrame(kindErrorReply, frameBody{CorrId: fb.CorrId, Method: fb.Method, ErrMsg: fmt.Sprintf("no handler for method %q", fb.Method)})
}
