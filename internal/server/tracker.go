// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package server

import (
	"sync"

	"github.com/taskpar/tpar/internal/rpc"
)

// WorkerTracker collects the rpc.Conn of every worker currently connected
// to this server, keyed by worker id, so a kill on a Running job can find
// the connection to deliver an out-of-band terminate call on.
type WorkerTracker struct {
	mu      sync.RWMutex
	workers map[string]*rpc.Conn
}

// NewWorkerTracker creates a tracker with no connected workers.
func NewWorkerTracker() *WorkerTracker {
	return &WorkerTracker{workers: make(map[string]*rpc.Conn)}
}

// Join registers workerId's connection, replacing any prior connection
// recorded under the same id (a reconnect).
func (t *WorkerTracker) Join(workerId string, conn *rpc.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[workerId] = conn
}

// Leave deregisters workerId, but only if it is still associated with
// conn (so a stale Leave from a superseded connection doesn't evict a
// newer one).
func (t *WorkerTracker) Leave(workerId string, conn *rpc.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.workers[workerId] == conn {
		delete(t.workers, workerId)
	}
}

// Conn returns the connection currently registered for workerId, or nil.
func (t *WorkerTracker) Conn(workerId string) *rpc.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.workers[workerId]
}

// Count returns the number of currently connected workers.
func (t *WorkerTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.workers)
}
