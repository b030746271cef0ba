// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package server implements the server loop and dispatch: it accepts
// enqueue/status/kill/rerun calls from clients and request-job/report-exit
// calls from workers, all glued together through internal/queue's
// atomic-region store and an internal/subpub stream per ToRemoteSink job.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskpar/tpar/clog"
	"github.com/taskpar/tpar/internal/jobmatch"
	"github.com/taskpar/tpar/internal/proto"
	"github.com/taskpar/tpar/internal/queue"
	"github.com/taskpar/tpar/internal/rpc"
	"github.com/taskpar/tpar/internal/subpub"
)

// streamResult is the terminal value of a ToRemoteSink job's SubPub
// stream, delivered to every subscriber when the job finishes.
type streamResult struct {
	ExitCode int
	Failed   bool
	ErrorMsg string
}

// Server owns the job store, the live output streams of ToRemoteSink
// jobs, and the set of connected workers.
type Server struct {
	*clog.CLogger

	store *queue.Store

	mu      sync.Mutex
	streams map[queue.JobId]*subpub.SubPub[queue.OutputChunk, streamResult]
	kills   map[queue.JobId]func() // jobs currently run by a local (embedded) worker

	workers *WorkerTracker
}

// New creates an empty Server.
func New() *Server {
	return &Server{
		CLogger: clog.New("server "),
		store:   queue.New(),
		streams: make(map[queue.JobId]*subpub.SubPub[queue.OutputChunk, streamResult]),
		kills:   make(map[queue.JobId]func()),
		workers: NewWorkerTracker(),
	}
}

// Enqueue admits a new job, allocating a SubPub stream when sinkKind is
// ToRemoteSink.
func (s *Server) Enqueue(req queue.JobRequest, sinkKind queue.SinkKind, stdoutPath, stderrPath string) *queue.Job {
	outSink := queue.OutputSink{Kind: sinkKind, StdoutPath: stdoutPath, StderrPath: stderrPath}

	var sp *subpub.SubPub[queue.OutputChunk, streamResult]
	if sinkKind == queue.ToRemoteSink {
		sp = subpub.New[queue.OutputChunk, streamResult](subpub.DefaultBufferSize)
		outSink.Stream = &serverRemoteSink{sp: sp}
	}

	job := s.store.Enqueue(outSink, req)

	if sp != nil {
		s.mu.Lock()
		s.streams[job.Id] = sp
		s.mu.Unlock()
	}
	return job
}

// serverRemoteSink implements queue.RemoteSink over a SubPub, so that a
// local (embedded) worker's internal/sink wrapper can feed a ToRemoteSink
// job's output the same way it would feed a file, without knowing
// anything about RPC or watchers.
type serverRemoteSink struct {
	sp *subpub.SubPub[queue.OutputChunk, streamResult]
}

func (r *serverRemoteSink) Feed(chunk queue.OutputChunk) bool {
	return r.sp.Feed(context.Background(), chunk)
}
func (r *serverRemoteSink) Finish(exitCode int) { r.sp.Finish(streamResult{ExitCode: exitCode}) }
func (r *serverRemoteSink) Fail(reason error)   { r.sp.Fail(reason) }

// Status returns every job matching filter.
func (s *Server) Status(filter jobmatch.Matcher) []*queue.Job {
	all := s.store.AllJobs()
	out := make([]*queue.Job, 0, len(all))
	for _, j := range all {
		if filter.Match(j) {
			out = append(out, j)
		}
	}
	return out
}

// Kill kills every job matching filter, returning the ids actually
// transitioned to Killed. For jobs that were Running, it also delivers
// the out-of-band terminate signal to whichever worker (local or remote)
// is executing them.
func (s *Server) Kill(filter jobmatch.Matcher) []queue.JobId {
	var killed []queue.JobId
	for _, j := range s.store.AllJobs() {
		if !filter.Match(j) {
			continue
		}
		result, wasRunning, ok := s.store.TryKill(j.Id)
		if !ok {
			continue
		}
		killed = append(killed, result.Id)
		if wasRunning {
			s.terminate(result.Id, result.State.WorkerId)
		}
	}
	return killed
}

// terminate delivers the out-of-band process-terminate signal for jobId,
// either to a local (embedded) worker's kill func or, for a remote
// worker, via an RPC call to its connection.
func (s *Server) terminate(jobId queue.JobId, workerId string) {
	s.mu.Lock()
	kill := s.kills[jobId]
	conn := s.workers.Conn(workerId)
	s.mu.Unlock()

	if kill != nil {
		kill()
		return
	}
	if conn == nil {
		s.Errorf("cannot terminate job %d: worker %s not connected", jobId, workerId)
		return
	}
	go func() {
		var reply proto.TerminateReply
		if err := conn.Call(context.Background(), proto.MethodTerminate, proto.TerminateRequest{JobId: uint64(jobId)}, &reply); err != nil {
			s.Errorf("terminate RPC to worker %s for job %d failed: %v", workerId, jobId, err)
		}
	}()
}

// Rerun re-enqueues every terminal job matching filter under a fresh id,
// coercing a ToRemoteSink sink to NoOutput since the original subscriber
// is long gone.
func (s *Server) Rerun(filter jobmatch.Matcher) []*queue.Job {
	var created []*queue.Job
	for _, j := range s.store.AllJobs() {
		if !filter.Match(j) || !j.State.Terminal() {
			continue
		}
		sinkKind := j.Sink.Kind
		stdoutPath, stderrPath := j.Sink.StdoutPath, j.Sink.StderrPath
		if sinkKind == queue.ToRemoteSink {
			sinkKind = queue.NoOutput
			stdoutPath, stderrPath = "", ""
		}
		created = append(created, s.Enqueue(j.Request, sinkKind, stdoutPath, stderrPath))
	}
	return created
}

// TakeJob blocks until a job is available for workerId, transitioning it
// to Running.
func (s *Server) TakeJob(ctx context.Context, workerId string) (*queue.Job, error) {
	job, err := s.store.TakeQueued(ctx)
	if err != nil {
		return nil, err
	}
	job, ok := s.store.SetRunning(job.Id, workerId)
	if !ok {
		return nil, fmt.Errorf("server: job %d vanished before it could be set running", job.Id)
	}
	return job, nil
}

// CompleteJob applies a Running job's outcome and, for ToRemoteSink jobs,
// terminates the corresponding stream.
func (s *Server) CompleteJob(jobId queue.JobId, exitCode int, runErr error) {
	var newState queue.JobState
	if runErr != nil {
		newState = queue.FailedState(runErr.Error(), time.Now())
	} else {
		newState = queue.FinishedState(exitCode, time.Now())
	}
	_, applied := s.store.CompleteIfRunning(jobId, newState)
	if !applied {
		// Lost the race to a concurrent kill: Killed stands, but a watched
		// job's stream is still ended below with the reported outcome.
		cur, ok := s.store.Get(jobId)
		if !ok || cur.State.Kind != queue.Killed {
			return
		}
	}

	s.mu.Lock()
	sp := s.streams[jobId]
	delete(s.streams, jobId)
	delete(s.kills, jobId)
	s.mu.Unlock()

	if sp != nil {
		if runErr != nil {
			sp.Finish(streamResult{Failed: true, ErrorMsg: runErr.Error()})
		} else {
			sp.Finish(streamResult{ExitCode: exitCode})
		}
	}
}

// failJobsOwnedBy transitions every Running job currently assigned to
// workerId to Failed. Called once a worker's connection drops, since no
// exit code will ever arrive for whatever job it was running.
func (s *Server) failJobsOwnedBy(workerId string) {
	for _, j := range s.store.AllJobs() {
		if j.State.Kind == queue.Running && j.State.WorkerId == workerId {
			s.CompleteJob(j.Id, -1, fmt.Errorf("worker %s disconnected", workerId))
		}
	}
}

// feedRemote forwards one output chunk into jobId's stream, if any.
func (s *Server) feedRemote(jobId queue.JobId, chunk queue.OutputChunk) {
	s.mu.Lock()
	sp := s.streams[jobId]
	s.mu.Unlock()
	if sp != nil {
		sp.Feed(context.Background(), chunk)
	}
}

// RegisterLocalKill records the kill func for a job being executed by a
// local (in-process, server -N) worker.
func (s *Server) RegisterLocalKill(jobId queue.JobId, kill func()) (unregister func()) {
	s.mu.Lock()
	s.kills[jobId] = kill
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.kills, jobId)
		s.mu.Unlock()
	}
}
