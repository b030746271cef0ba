package jobmatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskpar/tpar/internal/jobmatch"
	"github.com/taskpar/tpar/internal/queue"
)

func job(id queue.JobId, name string, state queue.JobState) *queue.Job {
	return &queue.Job{
		Id:      id,
		Request: queue.JobRequest{Name: name},
		State:   state,
	}
}

func TestParseEmptyMatchesEverything(t *testing.T) {
	m, err := jobmatch.Parse("")
	require.NoError(t, err)
	require.True(t, m.Match(job(0, "anything", queue.QueuedState(time.Now()))))
}

func TestIdFilter(t *testing.T) {
	m, err := jobmatch.Parse("id:42")
	require.NoError(t, err)
	require.True(t, m.Match(job(42, "x", queue.QueuedState(time.Now()))))
	require.False(t, m.Match(job(7, "x", queue.QueuedState(time.Now()))))
}

func TestNameGlobFilter(t *testing.T) {
	m, err := jobmatch.Parse("name:build-*")
	require.NoError(t, err)
	require.True(t, m.Match(job(0, "build-frontend", queue.QueuedState(time.Now()))))
	require.False(t, m.Match(job(0, "deploy-frontend", queue.QueuedState(time.Now()))))
}

func TestStateFilter(t *testing.T) {
	m, err := jobmatch.Parse("state:running")
	require.NoError(t, err)
	require.True(t, m.Match(job(0, "x", queue.RunningState("w1", time.Now()))))
	require.False(t, m.Match(job(0, "x", queue.QueuedState(time.Now()))))
}

func TestUnknownStateIsParseError(t *testing.T) {
	_, err := jobmatch.Parse("state:zombie")
	require.Error(t, err)
}

func TestAndCombinator(t *testing.T) {
	m, err := jobmatch.Parse("name:build-* and state:running")
	require.NoError(t, err)
	require.True(t, m.Match(job(0, "build-x", queue.RunningState("w1", time.Now()))))
	require.False(t, m.Match(job(0, "build-x", queue.QueuedState(time.Now()))))
	require.False(t, m.Match(job(0, "deploy-x", queue.RunningState("w1", time.Now()))))
}

func TestOrCombinator(t *testing.T) {
	m, err := jobmatch.Parse("state:failed or state:killed")
	require.NoError(t, err)
	require.True(t, m.Match(job(0, "x", queue.FailedState("boom", time.Now()))))
	require.True(t, m.Match(job(0, "x", queue.KilledState(time.Now()))))
	require.False(t, m.Match(job(0, "x", queue.FinishedState(0, time.Now()))))
}

func TestNotCombinator(t *testing.T) {
	m, err := jobmatch.Parse("not state:running")
	require.NoError(t, err)
	require.True(t, m.Match(job(0, "x", queue.QueuedState(time.Now()))))
	require.False(t, m.Match(job(0, "x", queue.RunningState("w1", time.Now()))))
}

func TestParenthesesOverrideDefaultPrecedence(t *testing.T) {
	// Without parens, "and" binds tighter than "or": this means
	// "state:queued or (state:running and name:build-*)".
	m, err := jobmatch.Parse("state:queued or state:running and name:build-*")
	require.NoError(t, err)
	require.True(t, m.Match(job(0, "deploy-x", queue.QueuedState(time.Now()))))
	require.False(t, m.Match(job(0, "deploy-x", queue.RunningState("w1", time.Now()))))

	m2, err := jobmatch.Parse("(state:queued or state:running) and name:build-*")
	require.NoError(t, err)
	require.False(t, m2.Match(job(0, "deploy-x", queue.QueuedState(time.Now()))))
	require.True(t, m2.Match(job(0, "build-x", queue.RunningState("w1", time.Now()))))
}

func TestNestedNotAndParens(t *testing.T) {
	m, err := jobmatch.Parse("not (state:finished or state:failed)")
	require.NoError(t, err)
	require.True(t, m.Match(job(0, "x", queue.KilledState(time.Now()))))
	require.False(t, m.Match(job(0, "x", queue.FinishedState(0, time.Now()))))
}

func TestMalformedExpressionErrors(t *testing.T) {
	_, err := jobmatch.Parse("state:")
	require.Error(t, err)

	_, err = jobmatch.Parse("(state:running")
	require.Error(t, err)

	_, err = jobmatch.Parse("bogus:term")
	require.Error(t, err)

	_, err = jobmatch.Parse("id:notanumber")
	require.Error(t, err)
}

func TestStringRoundTripIsHumanReadable(t *testing.T) {
	m, err := jobmatch.Parse("name:foo and not state:killed")
	require.NoError(t, err)
	require.Equal(t, "(name:foo and not state:killed)", m.String())
}
