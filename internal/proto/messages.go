// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package proto defines the request/reply payloads exchanged between tpar
// clients, workers, and the server over internal/rpc.
// Each exported type is a concrete (non-interface) gob-encodable struct
// encoded through internal/wire, so no gob.Register calls are needed.
package proto

import (
	"time"

	"github.com/taskpar/tpar/internal/queue"
)

// Method tags identify which RPC is being called; they double as the
// envelope Method field in internal/rpc.
type Method string

const (
	MethodEnqueue    Method = "enqueue"
	MethodStatus     Method = "status"
	MethodKill       Method = "kill"
	MethodRerun      Method = "rerun"
	MethodRequestJob Method = "request_job"
	MethodReportExit Method = "report_exit"
	MethodWatch      Method = "watch"
	MethodHello      Method = "hello"
	MethodPushChunk  Method = "push_chunk"
	MethodPushDone   Method = "push_done"
	MethodTerminate  Method = "terminate"
)

// JobDTO is the wire-serializable mirror of queue.Job, flattening its
// tagged-union JobState the way a network message should: explicit about
// which fields apply instead of relying on a Kind discriminant alone to be
// interpreted correctly by a differently-versioned peer.
type JobDTO struct {
	Id       uint64
	Name     string
	Priority int
	Command  string
	Args     []string
	Dir      string

	State      string // one of queue's StateKind.String() values
	QueueTime  time.Time
	WorkerId   string
	StartTime  time.Time
	ExitCode   int
	FinishTime time.Time
	ErrorMsg   string
	FailedTime time.Time
	KilledTime time.Time

	SinkKind   int // mirrors queue.SinkKind
	StdoutPath string
	StderrPath string
}

// ToJobDTO flattens a queue.Job into its wire form.
func ToJobDTO(j *queue.Job) JobDTO {
	return JobDTO{
		Id:         uint64(j.Id),
		Name:       j.Request.Name,
		Priority:   int(j.Request.Priority),
		Command:    j.Request.Command,
		Args:       j.Request.Args,
		Dir:        j.Request.Dir,
		State:      j.State.Kind.String(),
		QueueTime:  j.State.QueueTime,
		WorkerId:   j.State.WorkerId,
		StartTime:  j.State.StartTime,
		ExitCode:   j.State.ExitCode,
		FinishTime: j.State.FinishTime,
		ErrorMsg:   j.State.ErrorMsg,
		FailedTime: j.State.FailedTime,
		KilledTime: j.State.KilledTime,
		SinkKind:   int(j.Sink.Kind),
		StdoutPath: j.Sink.StdoutPath,
		StderrPath: j.Sink.StderrPath,
	}
}

// EnqueueRequest asks the server to admit a new job.
type EnqueueRequest struct {
	Name       string
	Priority   int
	Command    string
	Args       []string
	Dir        string
	Env        map[string]string
	Watch      bool // true for -w: caller wants a live output stream back
	StdoutPath string
	StderrPath string
}

// EnqueueReply returns the id the server assigned.
type EnqueueReply struct {
	Id uint64
}

// StatusRequest asks for every job matching Filter (a jobmatch expression;
// empty matches all).
type StatusRequest struct {
	Filter string
}

// StatusReply carries the matched jobs.
type StatusReply struct {
	Jobs []JobDTO
}

// KillRequest asks the server to kill every job matching Filter.
type KillRequest struct {
	Filter string
}

// KillReply reports which job ids were actually transitioned to Killed.
type KillReply struct {
	KilledIds []uint64
}

// RerunRequest asks the server to re-enqueue every terminal job matching
// Filter under a fresh id, as a new Queued job with the same request (output sink
// coerced away from ToRemoteSink).
type RerunRequest struct {
	Filter string
}

// RerunReply reports the fresh ids created.
type RerunReply struct {
	NewIds []uint64
}

// RequestJobRequest is sent by a worker asking for its next job; it blocks
// server-side (via queue.Store.TakeQueued) until one is available or the
// RPC's context is canceled.
type RequestJobRequest struct {
	WorkerId string
}

// RequestJobReply carries the job a worker should now run.
type RequestJobReply struct {
	Job JobDTO
}

// ReportExitRequest is sent by a worker once a job's child process exits
// (or fails to start).
type ReportExitRequest struct {
	JobId    uint64
	WorkerId string
	ExitCode int
	Err      string // non-empty if the process could not be run at all
}

// ReportExitReply acknowledges the report.
type ReportExitReply struct{}

// WatchRequest establishes a push stream of a job's output chunks (used by
// `tpar enqueue -w`; a worker delivers ToRemoteSink output to the server
// with PushChunkRequest instead).
type WatchRequest struct {
	JobId uint64
}

// WatchReply is not sent by the server's watch handler: a watch is
// answered only with push envelopes correlated to the same call id.
type WatchReply struct {
	Accepted bool
}

// WatchPush is the single push envelope body type delivered to a watcher:
// either one output chunk (Done == false) or the terminal outcome
// (Done == true, no further pushes follow).
type WatchPush struct {
	Done bool

	Stream byte // 0 = stdout, 1 = stderr; meaningful when !Done
	Data   []byte

	ExitCode int // meaningful when Done
	Failed   bool
	ErrorMsg string
}

// PushChunkRequest forwards one output chunk from the worker running a
// ToRemoteSink job back to the server, which re-broadcasts it to any
// client watching that job.
type PushChunkRequest struct {
	JobId  uint64
	Stream byte // 0 = stdout, 1 = stderr
	Data   []byte
}

// PushChunkReply acknowledges one chunk.
type PushChunkReply struct{}

// PushDoneRequest tells the server a ToRemoteSink job's output is
// complete, so it can terminate the corresponding watch stream.
type PushDoneRequest struct {
	JobId    uint64
	ExitCode int
	Failed   bool
	ErrorMsg string
}

// PushDoneReply acknowledges the completion report.
type PushDoneReply struct{}

// TerminateRequest is sent server-to-worker to deliver kill's out-of-band
// process-terminate signal to whichever worker is currently running
// JobId.
type TerminateRequest struct {
	JobId uint64
}

// TerminateReply acknowledges the termination request; it does not imply
// the process has already exited.
type TerminateReply struct{}

// HelloRequest identifies a newly connected worker to the server.
type HelloRequest struct {
	WorkerId string
}

// HelloReply acknowledges a worker's hello.
type HelloReply struct{}
