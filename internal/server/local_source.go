package server

import (
	"context"

	"github.com/taskpar/tpar/internal/queue"
	"github.com/taskpar/tpar/internal/sink"
	"github.com/taskpar/tpar/internal/worker"
)

// localSource is the worker.JobSource used by a server's own embedded
// workers (`server -N`), talking to the Server directly as Go method
// calls instead of over internal/rpc.
type localSource struct {
	s *Server
}

// LocalJobSource returns a worker.JobSource backed directly by s, for use
// by in-process workers started alongside the server itself.
func (s *Server) LocalJobSource() worker.JobSource {
	return &localSource{s: s}
}

func (l *localSource) RequestJob(ctx context.Context, workerId string) (*queue.Job, sink.Sink, error) {
	job, err := l.s.TakeJob(ctx, workerId)
	if err != nil {
		return nil, nil, err
	}
	sk, err := sink.Open(job.Sink)
	if err != nil {
		return nil, nil, err
	}
	return job, sk, nil
}

func (l *localSource) Bind(jobId queue.JobId, kill func()) func() {
	return l.s.RegisterLocalKill(jobId, kill)
}

func (l *localSource) ReportExit(ctx context.Context, jobId queue.JobId, workerId string, exitCode int, runErr error) error {
	l.s.CompleteJob(jobId, exitCode, runErr)
	return nil
}
