package server

import (
	"context"
	"fmt"

	"github.com/taskpar/tpar/internal/jobmatch"
	"github.com/taskpar/tpar/internal/proto"
	"github.com/taskpar/tpar/internal/queue"
	"github.com/taskpar/tpar/internal/rpc"
)

// BindHandlers registers every RPC method this server answers on conn.
// Called once per accepted connection, since internal/rpc.Conn's handler
// table is per-connection.
func (s *Server) BindHandlers(conn *rpc.Conn) {
	conn.Handle(proto.MethodHello, s.handleHello(conn))
	conn.Handle(proto.MethodEnqueue, s.handleEnqueue)
	conn.Handle(proto.MethodStatus, s.handleStatus)
	conn.Handle(proto.MethodKill, s.handleKill)
	conn.Handle(proto.MethodRerun, s.handleRerun)
	conn.Handle(proto.MethodRequestJob, s.handleRequestJob)
	conn.Handle(proto.MethodReportExit, s.handleReportExit)
	conn.Handle(proto.MethodPushChunk, s.handlePushChunk)
	conn.Handle(proto.MethodPushDone, s.handlePushDone)
	conn.HandleStream(proto.MethodWatch, s.handleWatch)
}

func (s *Server) handleHello(conn *rpc.Conn) rpc.Handler {
	return func(ctx context.Context, decode func(v any) error) (any, error) {
		var req proto.HelloRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		s.workers.Join(req.WorkerId, conn)
		s.Printf("worker %s connected", req.WorkerId)
		go func() {
			<-conn.Done()
			s.workers.Leave(req.WorkerId, conn)
			s.Printf("worker %s disconnected", req.WorkerId)
			s.failJobsOwnedBy(req.WorkerId)
		}()
		return proto.HelloReply{}, nil
	}
}

func (s *Server) handleEnqueue(ctx context.Context, decode func(v any) error) (any, error) {
	var req proto.EnqueueRequest
	if err := decode(&req); err != nil {
		return nil, err
	}

	jobReq := queue.JobRequest{
		Name:     req.Name,
		Priority: queue.Priority(req.Priority),
		Command:  req.Command,
		Args:     req.Args,
		Dir:      req.Dir,
		Env:      req.Env,
	}

	sinkKind := queue.NoOutput
	switch {
	case req.Watch:
		sinkKind = queue.ToRemoteSink
	case req.StdoutPath != "" || req.StderrPath != "":
		sinkKind = queue.ToFiles
	}

	job := s.Enqueue(jobReq, sinkKind, req.StdoutPath, req.StderrPath)
	return proto.EnqueueReply{Id: uint64(job.Id)}, nil
}

func (s *Server) handleStatus(ctx context.Context, decode func(v any) error) (any, error) {
	var req proto.StatusRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	m, err := jobmatch.Parse(req.Filter)
	if err != nil {
		return nil, err
	}
	jobs := s.Status(m)
	dtos := make([]proto.JobDTO, len(jobs))
	for i, j := range jobs {
		dtos[i] = proto.ToJobDTO(j)
	}
	return proto.StatusReply{Jobs: dtos}, nil
}

func (s *Server) handleKill(ctx context.Context, decode func(v any) error) (any, error) {
	var req proto.KillRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	m, err := jobmatch.Parse(req.Filter)
	if err != nil {
		return nil, err
	}
	ids := s.Kill(m)
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return proto.KillReply{KilledIds: out}, nil
}

func (s *Server) handleRerun(ctx context.Context, decode func(v any) error) (any, error) {
	var req proto.RerunRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	m, err := jobmatch.Parse(req.Filter)
	if err != nil {
		return nil, err
	}
	jobs := s.Rerun(m)
	out := make([]uint64, len(jobs))
	for i, j := range jobs {
		out[i] = uint64(j.Id)
	}
	return proto.RerunReply{NewIds: out}, nil
}

func (s *Server) handleRequestJob(ctx context.Context, decode func(v any) error) (any, error) {
	var req proto.RequestJobRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	job, err := s.TakeJob(ctx, req.WorkerId)
	if err != nil {
		return nil, err
	}
	return proto.RequestJobReply{Job: proto.ToJobDTO(job)}, nil
}

func (s *Server) handleReportExit(ctx context.Context, decode func(v any) error) (any, error) {
	var req proto.ReportExitRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	var runErr error
	if req.Err != "" {
		runErr = fmt.Errorf("%s", req.Err)
	}
	s.CompleteJob(queue.JobId(req.JobId), req.ExitCode, runErr)
	return proto.ReportExitReply{}, nil
}

func (s *Server) handlePushChunk(ctx context.Context, decode func(v any) error) (any, error) {
	var req proto.PushChunkRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	s.feedRemote(queue.JobId(req.JobId), queue.OutputChunk{Stream: queue.StreamKind(req.Stream), Data: req.Data})
	return proto.PushChunkReply{}, nil
}

func (s *Server) handlePushDone(ctx context.Context, decode func(v any) error) (any, error) {
	var req proto.PushDoneRequest
	if err := decode(&req); err != nil {
		return nil, err
	}
	var runErr error
	if req.Failed {
		runErr = fmt.Errorf("%s", req.ErrorMsg)
	}
	s.CompleteJob(queue.JobId(req.JobId), req.ExitCode, runErr)
	return proto.PushDoneReply{}, nil
}

func (s *Server) handleWatch(ctx context.Context, decode func(v any) error, push rpc.Pusher) {
	var req proto.WatchRequest
	if err := decode(&req); err != nil {
		push.End(err)
		return
	}

	s.mu.Lock()
	sp := s.streams[queue.JobId(req.JobId)]
	s.mu.Unlock()
	if sp == nil {
		push.End(fmt.Errorf("server: no live output stream for job %d", req.JobId))
		return
	}

	ch, ok := sp.Subscribe()
	if !ok {
		push.End(fmt.Errorf("server: job %d's output stream already ended", req.JobId))
		return
	}

	for ev := range ch {
		if chunk, ok := ev.More(); ok {
			if err := push.Push(proto.WatchPush{Stream: byte(chunk.Stream), Data: chunk.Data}); err != nil {
				return
			}
			continue
		}
		if result, ok := ev.Done(); ok {
			push.Push(proto.WatchPush{Done: true, ExitCode: result.ExitCode, Failed: result.Failed, ErrorMsg: result.ErrorMsg})
			push.End(nil)
			return
		}
		if failErr, ok := ev.Failed(); ok {
			push.End(failErr)
			return
		}
	}
}
