package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper/internal/checkpoint"
	"github.com/arpanauts/biomapper/internal/progress"
)

type eventRecorder struct {
	events []progress.Event
}

func (r *eventRecorder) OnEvent(e progress.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) kinds() []progress.Kind {
	out := make([]progress.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *eventRecorder) count(kind progress.Kind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *checkpoint.FileStore, *eventRecorder) {
	t.Helper()
	store := checkpoint.NewFileStore(memfs.New())
	rec := &eventRecorder{}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	c := NewCoordinator(store, nil, cfg, nil)
	c.Broadcaster().AddListener(rec)
	return c, store, rec
}

func TestExecuteRobustly_Success(t *testing.T) {
	c, store, rec := newTestCoordinator(t, Config{Checkpoints: true})
	ctx := context.Background()

	result, err := c.ExecuteRobustly(ctx, "map-proteins", []string{"TP53", "BRCA1"},
		func(_ context.Context, ids []string, state checkpoint.State) (any, error) {
			assert.Nil(t, state)
			return map[string]string{"TP53": "P04637"}, nil
		},
		WithExecutionID("map-proteins_1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TP53": "P04637"}, result)

	assert.Equal(t, []progress.Kind{progress.KindStarted, progress.KindCompleted}, rec.kinds())
	assert.False(t, rec.events[0].Resumed)
	assert.Equal(t, 1, rec.events[1].Results)
	assert.False(t, store.Exists("map-proteins_1"))
}

func TestExecuteRobustly_DeletesCheckpointOnSuccess(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{Checkpoints: true})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "job_1", checkpoint.State{"stale": true}))

	_, err := c.ExecuteRobustly(ctx, "job", nil,
		func(context.Context, []string, checkpoint.State) (any, error) { return nil, nil },
		WithExecutionID("job_1"))
	require.NoError(t, err)
	assert.False(t, store.Exists("job_1"))
}

func TestExecuteRobustly_ResumesFromCheckpoint(t *testing.T) {
	c, store, rec := newTestCoordinator(t, Config{Checkpoints: true})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "job_1", checkpoint.State{"processed_count": 6}))

	var seen checkpoint.State
	_, err := c.ExecuteRobustly(ctx, "job", nil,
		func(_ context.Context, _ []string, state checkpoint.State) (any, error) {
			seen = state
			return nil, nil
		},
		WithExecutionID("job_1"))
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.EqualValues(t, 6, seen["processed_count"])
	assert.True(t, rec.events[0].Resumed)
}

func TestExecuteRobustly_WithoutResumeIgnoresCheckpoint(t *testing.T) {
	c, store, rec := newTestCoordinator(t, Config{Checkpoints: true})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "job_1", checkpoint.State{"processed_count": 6}))

	_, err := c.ExecuteRobustly(ctx, "job", nil,
		func(_ context.Context, _ []string, state checkpoint.State) (any, error) {
			assert.Nil(t, state)
			return nil, nil
		},
		WithExecutionID("job_1"), WithoutResume())
	require.NoError(t, err)
	assert.False(t, rec.events[0].Resumed)
}

func TestExecuteRobustly_FailureKeepsCheckpoint(t *testing.T) {
	c, store, rec := newTestCoordinator(t, Config{Checkpoints: true})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "job_1", checkpoint.State{"processed_count": 3}))

	cause := errors.New("remote service unavailable")
	_, err := c.ExecuteRobustly(ctx, "job", []string{"a"},
		func(context.Context, []string, checkpoint.State) (any, error) { return nil, cause },
		WithExecutionID("job_1"))
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "job_1", execErr.ExecutionID)
	assert.True(t, execErr.CheckpointAvailable)
	assert.ErrorIs(t, err, cause)

	// The checkpoint survives for a resumed attempt.
	assert.True(t, store.Exists("job_1"))

	require.Equal(t, []progress.Kind{progress.KindStarted, progress.KindFailed}, rec.kinds())
	assert.True(t, rec.events[1].CheckpointAvailable)
	assert.Contains(t, rec.events[1].Error, "remote service unavailable")
}

func TestExecuteRobustly_GeneratesExecutionID(t *testing.T) {
	c, _, rec := newTestCoordinator(t, Config{})

	_, err := c.ExecuteRobustly(context.Background(), "map-metabolites", nil,
		func(context.Context, []string, checkpoint.State) (any, error) { return nil, nil })
	require.NoError(t, err)

	assert.Regexp(t, `^map-metabolites_\d+$`, rec.events[0].ExecutionID)
}

func TestExecuteWithRetry_SucceedsAfterFailures(t *testing.T) {
	c, _, rec := newTestCoordinator(t, Config{MaxRetries: 3})
	calls := 0

	result, err := c.ExecuteWithRetry(context.Background(), "flaky", []string{"a"},
		func(context.Context, []string, checkpoint.State) (any, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, rec.count(progress.KindRetry))

	retries := make([]int, 0, 2)
	for _, e := range rec.events {
		if e.Kind == progress.KindRetry {
			retries = append(retries, e.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2}, retries)
}

func TestExecuteWithRetry_Exhaustion(t *testing.T) {
	c, _, rec := newTestCoordinator(t, Config{MaxRetries: 2})
	calls := 0

	_, err := c.ExecuteWithRetry(context.Background(), "doomed", []string{"a"},
		func(context.Context, []string, checkpoint.State) (any, error) {
			calls++
			return nil, errors.New("permanent")
		})
	require.Error(t, err)

	// 1 initial + 2 retries.
	assert.Equal(t, 3, calls)

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
	assert.Equal(t, "doomed", retryErr.Name)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 2, rec.count(progress.KindRetry))
}

func TestExecuteWithRetry_RetriedAttemptResumesCheckpoint(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{MaxRetries: 1, Checkpoints: true})
	ctx := context.Background()
	calls := 0

	_, err := c.ExecuteWithRetry(ctx, "resumable", []string{"a", "b"},
		func(_ context.Context, _ []string, state checkpoint.State) (any, error) {
			calls++
			if calls == 1 {
				assert.Nil(t, state)
				// Simulate partial progress persisted before the crash.
				require.NoError(t, store.Save(ctx, "resumable_1", checkpoint.State{"processed_count": 1}))
				return nil, errors.New("crash mid-run")
			}
			require.NotNil(t, state)
			assert.EqualValues(t, 1, state["processed_count"])
			return "done", nil
		},
		WithExecutionID("resumable_1"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecuteWithRetry_ContextCancellationStopsWaiting(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{MaxRetries: 5, RetryDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ExecuteWithRetry(ctx, "cancelled", []string{"a"},
		func(context.Context, []string, checkpoint.State) (any, error) {
			return nil, errors.New("failing")
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckpointsDisabled(t *testing.T) {
	store := checkpoint.NewFileStore(memfs.New())
	c := NewCoordinator(store, nil, Config{Checkpoints: false, RetryDelay: time.Millisecond}, nil)
	ctx := context.Background()

	_, err := ProcessInBatches(ctx, c, []string{"a", "b"},
		func(_ context.Context, chunk []string) ([]string, error) { return chunk, nil },
		"job", "results", "job_1", nil)
	require.NoError(t, err)

	// The configured store is bypassed entirely.
	assert.False(t, store.Exists("job_1"))
}
