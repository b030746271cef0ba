package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskpar/tpar/internal/queue"
)

func req(name string, priority queue.Priority) queue.JobRequest {
	return queue.JobRequest{Name: name, Priority: priority, Command: "echo", Args: []string{name}}
}

func TestDispatchOrderRespectsPriority(t *testing.T) {
	s := queue.New()

	j0 := s.Enqueue(queue.OutputSink{}, req("a", 5))
	j1 := s.Enqueue(queue.OutputSink{}, req("b", 0))
	j2 := s.Enqueue(queue.OutputSink{}, req("c", 3))
	require.Equal(t, queue.JobId(0), j0.Id)
	require.Equal(t, queue.JobId(1), j1.Id)
	require.Equal(t, queue.JobId(2), j2.Id)

	ctx := context.Background()
	var order []queue.JobId
	for i := 0; i < 3; i++ {
		job, err := s.TakeQueued(ctx)
		require.NoError(t, err)
		order = append(order, job.Id)
	}
	require.Equal(t, []queue.JobId{j1.Id, j2.Id, j0.Id}, order)
}

func TestDispatchOrderTiesBrokenByJobId(t *testing.T) {
	s := queue.New()
	j0 := s.Enqueue(queue.OutputSink{}, req("a", 1))
	j1 := s.Enqueue(queue.OutputSink{}, req("b", 1))

	ctx := context.Background()
	first, err := s.TakeQueued(ctx)
	require.NoError(t, err)
	second, err := s.TakeQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, j0.Id, first.Id)
	require.Equal(t, j1.Id, second.Id)
}

func TestTakeQueuedBlocksUntilEnqueue(t *testing.T) {
	s := queue.New()
	ctx := context.Background()

	type result struct {
		job *queue.Job
		err error
	}
	ch := make(chan result, 1)
	go func() {
		job, err := s.TakeQueued(ctx)
		ch <- result{job, err}
	}()

	select {
	case <-ch:
		t.Fatal("TakeQueued returned before any job was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	job := s.Enqueue(queue.OutputSink{}, req("late", 0))
	r := <-ch
	require.NoError(t, r.err)
	require.Equal(t, job.Id, r.job.Id)
}

func TestTakeQueuedRespectsContextCancellation(t *testing.T) {
	s := queue.New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan error, 1)
	go func() {
		_, err := s.TakeQueued(ctx)
		ch <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-ch:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("TakeQueued did not observe context cancellation")
	}
}

func TestKillQueuedJobRemovesFromHeap(t *testing.T) {
	s := queue.New()
	j0 := s.Enqueue(queue.OutputSink{}, req("a", 0))
	s.Enqueue(queue.OutputSink{}, req("b", 1))

	killed, wasRunning, ok := s.TryKill(j0.Id)
	require.True(t, ok)
	require.False(t, wasRunning)
	require.Equal(t, queue.Killed, killed.State.Kind)

	job, _ := s.Get(j0.Id)
	require.Equal(t, queue.Killed, job.State.Kind)

	// Only the remaining job should be dispatched.
	ctx := context.Background()
	next, err := s.TakeQueued(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", next.Request.Name)
}

func TestKillFinishedJobIsNoop(t *testing.T) {
	s := queue.New()
	j := s.Enqueue(queue.OutputSink{}, req("a", 0))
	_, ok := s.Get(j.Id)
	require.True(t, ok)

	_, err := s.TakeQueued(context.Background())
	require.NoError(t, err)
	_, ok = s.SetRunning(j.Id, "worker-1")
	require.True(t, ok)
	_, ok = s.CompleteIfRunning(j.Id, queue.FinishedState(0, time.Now()))
	require.True(t, ok)

	_, _, ok = s.TryKill(j.Id)
	require.False(t, ok, "killing an already-finished job must be a no-op")

	job, _ := s.Get(j.Id)
	require.Equal(t, queue.Finished, job.State.Kind)
}

func TestCompleteIfRunningLosesToConcurrentKill(t *testing.T) {
	s := queue.New()
	j := s.Enqueue(queue.OutputSink{}, req("a", 0))
	_, err := s.TakeQueued(context.Background())
	require.NoError(t, err)
	_, ok := s.SetRunning(j.Id, "worker-1")
	require.True(t, ok)

	killed, wasRunning, ok := s.TryKill(j.Id)
	require.True(t, ok)
	require.True(t, wasRunning)
	require.Equal(t, queue.Killed, killed.State.Kind)

	// The supervisor's late completion must not overwrite Killed.
	_, applied := s.CompleteIfRunning(j.Id, queue.FinishedState(0, time.Now()))
	require.False(t, applied)

	job, _ := s.Get(j.Id)
	require.Equal(t, queue.Killed, job.State.Kind)
}

func TestAllJobsSnapshotIsIndependentCopy(t *testing.T) {
	s := queue.New()
	s.Enqueue(queue.OutputSink{}, req("a", 0))
	all := s.AllJobs()
	require.Len(t, all, 1)
	all[0].Request.Name = "mutated"

	job, _ := s.Get(all[0].Id)
	require.Equal(t, "a", job.Request.Name)
}
