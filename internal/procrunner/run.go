// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package procrunner executes a job's command as a child process and
// streams its combined stdout/stderr back as tagged chunks. It is
// deliberately independent of how the worker routes those chunks onward
// or reports the eventual exit code.
package procrunner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/taskpar/tpar/internal/queue"
)

// chunkBufferSize bounds the channel of OutputChunk so a slow consumer
// applies backpressure to the child's pipes rather than buffering
// unboundedly in memory.
const chunkBufferSize = 64

// Handle is a running (or just-finished) child process. Callers should
// drain Chunks until it closes, then call Wait to obtain the final result.
// Callers should never mutate a Handle's fields directly.
type Handle struct {
	cmd    *exec.Cmd
	chunks chan queue.OutputChunk

	mu   sync.Mutex
	done bool
}

// Start launches req.Command with req.Args in req.Dir (defaulting to the
// worker's own working directory when empty) with req.Env as the child's
// whole environment (or the worker's environment inherited wholesale when
// req.Env is nil), and begins streaming its output.
func Start(ctx context.Context, req queue.JobRequest) (*Handle, error) {
	cmd := exec.CommandContext(ctx, req.Command, req.Args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	if req.Env != nil {
		env := make([]string, 0, len(req.Env))
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("procrunner: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("procrunner: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procrunner: start %s: %w", req.Command, err)
	}

	h := &Handle{cmd: cmd, chunks: make(chan queue.OutputChunk, chunkBufferSize)}

	var wg sync.WaitGroup
	wg.Add(2)
	go h.pump(&wg, queue.Stdout, stdout)
	go h.pump(&wg, queue.Stderr, stderr)
	go func() {
		wg.Wait()
		close(h.chunks)
	}()

	return h, nil
}

func (h *Handle) pump(wg *sync.WaitGroup, stream queue.StreamKind, r io.Reader) {
	defer wg.Done()
	buf := bufio.NewReaderSize(r, 32*1024)
	for {
		chunk := make([]byte, 4096)
		n, err := buf.Read(chunk)
		if n > 0 {
			h.chunks <- queue.OutputChunk{Stream: stream, Data: chunk[:n]}
		}
		if err != nil {
			return
		}
	}
}

// Chunks returns the channel of output chunks, closed once both stdout and
// stderr have reached EOF. Order between the two streams is not preserved
// relative to each other, only within each.
func (h *Handle) Chunks() <-chan queue.OutputChunk { return h.chunks }

// Wait blocks until the child process exits and returns its exit code; it
// does not wait for the Chunks channel to be drained. A non-nil
// error indicates the process could not be waited on at all (as opposed to
// exiting with a non-zero status, which is reported via the exit code).
func (h *Handle) Wait() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return h.cmd.ProcessState.ExitCode(), nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("procrunner: wait: %w", err)
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// Kill sends SIGKILL to the child process (os.Process.Kill). It is
// safe to call multiple times and after the process has already exited.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}
	if h.cmd.Process == nil {
		return nil
	}
	err := h.cmd.Process.Kill()
	h.done = true
	return err
}
