package worker

import (
	"context"
	"errors"

	"github.com/taskpar/tpar/clog"
	"github.com/taskpar/tpar/internal/procrunner"
	"github.com/taskpar/tpar/internal/queue"
	"github.com/taskpar/tpar/internal/sink"
)

// Worker repeatedly pulls one job from its JobSource, executes it, and
// reports the outcome, one job per iteration, serialized per worker.
type Worker struct {
	*clog.CLogger
	id     string
	source JobSource
}

// New creates a Worker identified by id, pulling work from source.
func New(id string, source JobSource) *Worker {
	return &Worker{
		CLogger: clog.New("worker %s ", id),
		id:      id,
		source:  source,
	}
}

// Run loops until ctx is done or the JobSource reports a permanent
// failure (e.g. the connection to the server dropped), which it returns
// to the caller to decide whether to reconnect.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, sk, err := w.source.RequestJob(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		w.runJob(ctx, job, sk)
	}
}

// runJob executes one job's command to completion as its own supervised
// subtask: a kill delivered via Bind cancels jobCtx, which procrunner
// turns into process termination, without affecting the worker's main
// loop or any other job.
func (w *Worker) runJob(ctx context.Context, job *queue.Job, sk sink.Sink) {
	jobCtx, cancel := context.WithCancel(ctx)
	unbind := w.source.Bind(job.Id, cancel)
	defer unbind()
	defer cancel()

	w.Printf("running job %d: %s %v", job.Id, job.Request.Command, job.Request.Args)

	handle, err := procrunner.Start(jobCtx, job.Request)
	if err != nil {
		w.reportFailure(ctx, job.Id, sk, err)
		return
	}

	for chunk := range handle.Chunks() {
		sk.Feed(chunk)
	}

	code, err := handle.Wait()
	if err != nil {
		w.reportFailure(ctx, job.Id, sk, err)
		return
	}

	w.Printf("job %d exited %d", job.Id, code)
	sk.Finish(code)
	if err := w.source.ReportExit(ctx, job.Id, w.id, code, nil); err != nil {
		w.Errorf("failed reporting exit for job %d: %v", job.Id, err)
	}
}

func (w *Worker) reportFailure(ctx context.Context, jobId queue.JobId, sk sink.Sink, runErr error) {
	w.Errorf("job %d failed: %v", jobId, runErr)
	sk.Fail(runErr)
	if err := w.source.ReportExit(ctx, jobId, w.id, -1, runErr); err != nil {
		w.Errorf("failed reporting failure for job %d: %v", jobId, errors.Join(runErr, err))
	}
}
