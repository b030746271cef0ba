// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package sink routes a job's output chunks to wherever its OutputSink
// says they should go: discarded, written to files, or forwarded to a
// remote watcher's SubPub stream.
package sink

import (
	"fmt"
	"os"

	"github.com/taskpar/tpar/internal/queue"
)

// Sink accepts output chunks for the duration of a job and is told the
// final outcome exactly once, mirroring queue.RemoteSink so that the
// ToRemoteSink case can be implemented directly by a subpub wrapper.
type Sink interface {
	Feed(chunk queue.OutputChunk) bool
	Finish(exitCode int)
	Fail(reason error)
}

// Open returns the Sink implied by spec, opening any backing files eagerly
// so a misconfigured path fails before the job starts rather than mid-run.
func Open(spec queue.OutputSink) (Sink, error) {
	switch spec.Kind {
	case queue.NoOutput:
		return discardSink{}, nil
	case queue.ToFiles:
		return openFileSink(spec)
	case queue.ToRemoteSink:
		if spec.Stream == nil {
			return nil, fmt.Errorf("sink: ToRemoteSink requires a non-nil Stream")
		}
		return remoteSink{spec.Stream}, nil
	default:
		return nil, fmt.Errorf("sink: unknown OutputSink.Kind %d", spec.Kind)
	}
}

type discardSink struct{}

func (discardSink) Feed(queue.OutputChunk) bool { return true }
func (discardSink) Finish(int)                  {}
func (discardSink) Fail(error)                  {}

type remoteSink struct {
	stream queue.RemoteSink
}

func (r remoteSink) Feed(chunk queue.OutputChunk) bool { return r.stream.Feed(chunk) }
func (r remoteSink) Finish(exitCode int)               { r.stream.Finish(exitCode) }
func (r remoteSink) Fail(reason error)                 { r.stream.Fail(reason) }

// fileSink writes stdout/stderr chunks to open file handles. If
// StdoutPath == StderrPath, both streams share a single handle so lines
// interleave in the order they're written rather than landing in two
// independent files.
type fileSink struct {
	stdout   *os.File
	stderr   *os.File
	shared   bool
	finished bool
}

func openFileSink(spec queue.OutputSink) (Sink, error) {
	if spec.StdoutPath == "" || spec.StderrPath == "" {
		return nil, fmt.Errorf("sink: ToFiles requires both StdoutPath and StderrPath")
	}

	if spec.StdoutPath == spec.StderrPath {
		f, err := os.Create(spec.StdoutPath)
		if err != nil {
			return nil, fmt.Errorf("sink: open %s: %w", spec.StdoutPath, err)
		}
		return &fileSink{stdout: f, stderr: f, shared: true}, nil
	}

	out, err := os.Create(spec.StdoutPath)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", spec.StdoutPath, err)
	}
	errF, err := os.Create(spec.StderrPath)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("sink: open %s: %w", spec.StderrPath, err)
	}
	return &fileSink{stdout: out, stderr: errF}, nil
}

func (f *fileSink) Feed(chunk queue.OutputChunk) bool {
	target := f.stdout
	if chunk.Stream == queue.Stderr {
		target = f.stderr
	}
	_, err := target.Write(chunk.Data)
	return err == nil
}

func (f *fileSink) Finish(int) { f.close() }
func (f *fileSink) Fail(error) { f.close() }

func (f *fileSink) close() {
	if f.finished {
		return
	}
	f.finished = true
	f.stdout.Close()
	if !f.shared {
		f.stderr.Close()
	}
}
