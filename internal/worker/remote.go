package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskpar/tpar/internal/proto"
	"github.com/taskpar/tpar/internal/queue"
	"github.com/taskpar/tpar/internal/rpc"
	"github.com/taskpar/tpar/internal/sink"
)

// RemoteSource is the JobSource a standalone `tpar worker` process uses to
// talk to the server over an internal/rpc.Conn dialed in over TCP.
type RemoteSource struct {
	conn *rpc.Conn

	mu    sync.Mutex
	kills map[queue.JobId]func()
}

// NewRemoteSource wraps conn as a JobSource, registering the handler that
// answers the server's out-of-band terminate calls.
func NewRemoteSource(conn *rpc.Conn) *RemoteSource {
	r := &RemoteSource{conn: conn, kills: make(map[queue.JobId]func())}
	conn.Handle(proto.MethodTerminate, func(ctx context.Context, decode func(v any) error) (any, error) {
		var req proto.TerminateRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		r.mu.Lock()
		kill := r.kills[queue.JobId(req.JobId)]
		r.mu.Unlock()
		if kill != nil {
			kill()
		}
		return proto.TerminateReply{}, nil
	})
	return r
}

func (r *RemoteSource) Bind(jobId queue.JobId, kill func()) func() {
	r.mu.Lock()
	r.kills[jobId] = kill
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.kills, jobId)
		r.mu.Unlock()
	}
}

func (r *RemoteSource) RequestJob(ctx context.Context, workerId string) (*queue.Job, sink.Sink, error) {
	var reply proto.RequestJobReply
	if err := r.conn.Call(ctx, proto.MethodRequestJob, proto.RequestJobRequest{WorkerId: workerId}, &reply); err != nil {
		return nil, nil, err
	}

	job := dtoToJob(reply.Job)

	var (
		sk  sink.Sink
		err error
	)
	if job.Sink.Kind == queue.ToRemoteSink {
		sk = &forwardingSink{conn: r.conn, jobId: job.Id}
	} else {
		sk, err = sink.Open(job.Sink)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("worker: open sink for job %d: %w", job.Id, err)
	}
	return job, sk, nil
}

func (r *RemoteSource) ReportExit(ctx context.Context, jobId queue.JobId, workerId string, exitCode int, runErr error) error {
	req := proto.ReportExitRequest{JobId: uint64(jobId), WorkerId: workerId, ExitCode: exitCode}
	if runErr != nil {
		req.Err = runErr.Error()
	}
	var reply proto.ReportExitReply
	return r.conn.Call(ctx, proto.MethodReportExit, req, &reply)
}

func dtoToJob(dto proto.JobDTO) *queue.Job {
	return &queue.Job{
		Id: queue.JobId(dto.Id),
		Request: queue.JobRequest{
			Name:     dto.Name,
			Priority: queue.Priority(dto.Priority),
			Command:  dto.Command,
			Args:     dto.Args,
			Dir:      dto.Dir,
		},
		Sink: queue.OutputSink{
			Kind:       queue.SinkKind(dto.SinkKind),
			StdoutPath: dto.StdoutPath,
			StderrPath: dto.StderrPath,
		},
	}
}

// forwardingSink relays a ToRemoteSink job's output to the server over RPC
// so it can re-broadcast to watching clients.
type forwardingSink struct {
	conn  *rpc.Conn
	jobId queue.JobId
}

func (f *forwardingSink) Feed(chunk queue.OutputChunk) bool {
	var reply proto.PushChunkReply
	req := proto.PushChunkRequest{JobId: uint64(f.jobId), Stream: byte(chunk.Stream), Data: chunk.Data}
	return f.conn.Call(context.Background(), proto.MethodPushChunk, req, &reply) == nil
}

func (f *forwardingSink) Finish(exitCode int) {
	var reply proto.PushDoneReply
	req := proto.PushDoneRequest{JobId: uint64(f.jobId), ExitCode: exitCode}
	f.conn.Call(context.Background(), proto.MethodPushDone, req, &reply)
}

func (f *forwardingSink) Fail(reason error) {
	var reply proto.PushDoneReply
	req := proto.PushDoneRequest{JobId: uint64(f.jobId), Failed: true, ErrorMsg: reason.Error()}
	f.conn.Call(context.Background(), proto.MethodPushDone, req, &reply)
}
