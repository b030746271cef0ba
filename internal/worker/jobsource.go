// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package worker implements the worker loop: pull one job, execute it via
// internal/procrunner, route its output through the job's sink, and
// report the exit code, one job per iteration, serialized per worker.
package worker

import (
	"context"

	"github.com/taskpar/tpar/internal/queue"
	"github.com/taskpar/tpar/internal/sink"
)

// JobSource abstracts how a Worker obtains its next job and reports the
// outcome. An embedded (server -N) worker talks to it as plain Go method
// calls (see internal/server's local adapter); a remote worker talks to it
// over internal/rpc (see RemoteSource in this package).
type JobSource interface {
	// RequestJob blocks until a job is available, ctx is done, or the
	// source is permanently unavailable (e.g. the server connection
	// dropped). It returns the job to run and an already-opened Sink for
	// its output.
	RequestJob(ctx context.Context, workerId string) (*queue.Job, sink.Sink, error)

	// Bind registers kill as the out-of-band termination hook for jobId for
	// as long as the worker is executing it, so that a kill issued while
	// the job is Running reaches the task actually running the child. The
	// returned func removes the registration once the job finishes.
	Bind(jobId queue.JobId, kill func()) (unbind func())

	// ReportExit reports a job's outcome. runErr, if non-nil, means the
	// child process could not be run at all (distinct from the child
	// exiting with a non-zero code, which is conveyed by exitCode).
	ReportExit(ctx context.Context, jobId queue.JobId, workerId string, exitCode int, runErr error) error
}
