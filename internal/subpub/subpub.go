// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package subpub converts a single upstream producer of elements into a
// fan-out broadcast to dynamically subscribing sinks, with completion and
// failure propagated to every subscriber.
package subpub

import (
	"context"
	"sync"
)

// DefaultBufferSize is the feeder's bounded FIFO capacity: the only
// backpressure point in the system.
const DefaultBufferSize = 10

type eventKind int

const (
	kindMore eventKind = iota
	kindDone
	kindFailed
)

// Event is one message delivered to a subscriber: zero or more "more"
// events carrying an upstream item, followed by exactly one terminal event
// (Done or Failed).
type Event[A any, R any] struct {
	kind   eventKind
	item   A
	result R
	err    error
}

// More returns the carried item and true if this is a non-terminal event.
func (e Event[A, R]) More() (A, bool) {
	if e.kind == kindMore {
		return e.item, true
	}
	var zero A
	return zero, false
}

// Done returns the producer's final value and true if production finished
// successfully.
func (e Event[A, R]) Done() (R, bool) {
	if e.kind == kindDone {
		return e.result, true
	}
	var zero R
	return zero, false
}

// Failed returns the failure reason and true if production failed.
func (e Event[A, R]) Failed() (error, bool) {
	if e.kind == kindFailed {
		return e.err, true
	}
	return nil, false
}

// Terminal reports whether this event ends the stream.
func (e Event[A, R]) Terminal() bool {
	return e.kind != kindMore
}

// ProducerFunc performs the production of upstream elements to emit,
// returning a final value on success. emit blocks while the feeder's
// bounded FIFO is full and returns false once the SubPub has stopped
// accepting further emissions.
type ProducerFunc[A any, R any] func(ctx context.Context, emit func(A) bool) (R, error)

// SubPub fans a single upstream producer of A, terminated by a final value
// of type R, out to dynamically subscribing sinks.
type SubPub[A any, R any] struct {
	bufSize int
	feed    chan A
	stopped chan struct{}
	fanDone chan struct{}

	mu       sync.Mutex
	subs     map[int]chan Event[A, R]
	nextSub  int
	terminal *Event[A, R]
}

// New creates a SubPub ready to accept subscriptions immediately, before
// any element has been fed or produced, so early subscribers cannot miss
// anything to come.
//
// Feed must not be called concurrently with Finish/Fail: a SubPub has
// exactly one producer at a time, and only that producer decides when
// production has ended.
func New[A any, R any](bufSize int) *SubPub[A, R] {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	s := &SubPub[A, R]{
		bufSize: bufSize,
		feed:    make(chan A, bufSize),
		stopped: make(chan struct{}),
		fanDone: make(chan struct{}),
		subs:    make(map[int]chan Event[A, R]),
	}
	go s.fanOut()
	return s
}

// FromProducer creates a SubPub and starts the given producer in its own
// goroutine, returning the handle and a channel yielding the producer's
// terminal Done/Failed event.
func FromProducer[A any, R any](ctx context.Context, bufSize int, producer ProducerFunc[A, R]) (*SubPub[A, R], <-chan Event[A, R]) {
	s := New[A, R](bufSize)
	done := make(chan Event[A, R], 1)
	go func() {
		done <- s.Start(ctx, producer)
	}()
	return s, done
}

// Start runs producer to completion, feeding every emitted item into the
// SubPub and finally calling Finish or Fail. It returns the terminal event.
// Callers that want subscribers to be able to register before production
// begins should call Subscribe before Start. FromProducer starts production
// at once, so a subscriber registered after it returns can miss the first
// items.
func (s *SubPub[A, R]) Start(ctx context.Context, producer ProducerFunc[A, R]) Event[A, R] {
	result, err := producer(ctx, func(item A) bool {
		return s.Feed(ctx, item)
	})
	if err != nil {
		return s.Fail(err)
	}
	return s.Finish(result)
}

// Feed pushes one upstream element into the bounded FIFO, blocking while it
// is full. It returns false if the SubPub already terminated or ctx was
// canceled, in which case the caller should stop producing.
func (s *SubPub[A, R]) Feed(ctx context.Context, item A) bool {
	select {
	case <-s.stopped:
		return false
	default:
	}
	select {
	case s.feed <- item:
		return true
	case <-ctx.Done():
		return false
	case <-s.stopped:
		return false
	}
}

// Finish signals that the producer completed successfully with result,
// broadcasts Done to every current subscriber, and stops accepting new
// subscriptions.
func (s *SubPub[A, R]) Finish(result R) Event[A, R] {
	return s.terminate(Event[A, R]{kind: kindDone, result: result})
}

// Fail signals that the producer (or the feeder task itself) failed,
// broadcasts Failed to every current subscriber, and stops accepting new
// subscriptions.
func (s *SubPub[A, R]) Fail(reason error) Event[A, R] {
	return s.terminate(Event[A, R]{kind: kindFailed, err: reason})
}

// Subscribe registers a new subscriber and returns a channel of events and
// true. If the SubPub already terminated before the subscription could be
// registered, it returns (nil, false) -- the "already terminated" sentinel
// -- rather than risk the subscriber missing the terminal event.
func (s *SubPub[A, R]) Subscribe() (<-chan Event[A, R], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal != nil {
		return nil, false
	}
	ch := make(chan Event[A, R], s.bufSize)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, true
}

// Unsubscribe removes a previously registered subscriber, e.g. when its
// receiving side has died (detected by the caller's own monitor on the
// consuming goroutine).
func (s *SubPub[A, R]) Unsubscribe(ch <-chan Event[A, R]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.subs {
		if c == ch {
			delete(s.subs, id)
			return
		}
	}
}

// fanOut drains the feeder's FIFO and broadcasts each item to all current
// subscribers, in producer order, until terminate closes stopped; it then
// drains whatever was already buffered before handing off to terminate.
func (s *SubPub[A, R]) fanOut() {
	defer close(s.fanDone)
	for {
		select {
		case item := <-s.feed:
			s.broadcast(Event[A, R]{kind: kindMore, item: item})
		case <-s.stopped:
			for {
				select {
				case item := <-s.feed:
					s.broadcast(Event[A, R]{kind: kindMore, item: item})
				default:
					return
				}
			}
		}
	}
}

func (s *SubPub[A, R]) broadcast(ev Event[A, R]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// A subscriber that isn't keeping up is treated as dead, the
			// same way a monitor notification would remove it.
			close(ch)
			delete(s.subs, id)
		}
	}
}

func (s *SubPub[A, R]) terminate(ev Event[A, R]) Event[A, R] {
	s.mu.Lock()
	if s.terminal != nil {
		already := *s.terminal
		s.mu.Unlock()
		return already
	}
	s.terminal = &ev
	s.mu.Unlock()

	close(s.stopped)
	<-s.fanDone // wait for any already-buffered items to be broadcast first

	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[int]chan Event[A, R])
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, ch := range subs {
		wg.Add(1)
		go func(ch chan Event[A, R]) {
			defer wg.Done()
			ch <- ev
			close(ch)
		}(ch)
	}
	wg.Wait()
	return ev
}
