package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper/internal/checkpoint"
	"github.com/arpanauts/biomapper/internal/progress"
)

func TestProcessInBatches_ChunkSizes(t *testing.T) {
	c, _, rec := newTestCoordinator(t, Config{BatchSize: 3, Checkpoints: true})
	items := []string{"i0", "i1", "i2", "i3", "i4", "i5", "i6", "i7", "i8", "i9"}

	var chunkSizes []int
	results, err := ProcessInBatches(context.Background(), c, items,
		func(_ context.Context, chunk []string) ([]string, error) {
			chunkSizes = append(chunkSizes, len(chunk))
			return chunk, nil
		},
		"chunked", "results", "chunked_1", nil)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 3, 1}, chunkSizes)
	assert.Equal(t, items, results)

	var percents []float64
	var batchNums []int
	for _, e := range rec.events {
		if e.Kind == progress.KindBatchCompleted {
			percents = append(percents, e.Percent)
			batchNums = append(batchNums, e.Batch)
			assert.Equal(t, 4, e.Batches)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4}, batchNums)
	assert.Equal(t, []float64{30, 60, 90, 100}, percents)
}

func TestProcessInBatches_SavesCheckpointAfterEachChunk(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{BatchSize: 2, Checkpoints: true})
	ctx := context.Background()

	_, err := ProcessInBatches(ctx, c, []string{"a", "b", "c"},
		func(_ context.Context, chunk []string) ([]string, error) { return chunk, nil },
		"job", "results", "job_1", nil)
	require.NoError(t, err)

	state, err := store.Load(ctx, "job_1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.EqualValues(t, 3, state[ProcessedCountKey])
	assert.EqualValues(t, 3, state[TotalCountKey])
	assert.NotEmpty(t, state[checkpoint.TimestampKey])
}

func TestProcessInBatches_ResumeSkipsProcessedItems(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{BatchSize: 3, Checkpoints: true})
	items := []string{"i0", "i1", "i2", "i3", "i4", "i5", "i6", "i7", "i8", "i9"}
	prior := checkpoint.State{
		"results":         []string{"r0", "r1", "r2", "r3", "r4", "r5"},
		ProcessedCountKey: 6,
		TotalCountKey:     10,
	}

	var processedItems []string
	results, err := ProcessInBatches(context.Background(), c, items,
		func(_ context.Context, chunk []string) ([]string, error) {
			processedItems = append(processedItems, chunk...)
			return chunk, nil
		},
		"resumed", "results", "resumed_1", prior)
	require.NoError(t, err)

	// Only the remaining four items run; prior results are kept in front.
	assert.Equal(t, []string{"i6", "i7", "i8", "i9"}, processedItems)
	assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r4", "r5", "i6", "i7", "i8", "i9"}, results)
}

func TestProcessInBatches_ResumeFromPersistedState(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{BatchSize: 2, Checkpoints: true})
	ctx := context.Background()

	// Persist and reload so results pass through their JSON wire form, as
	// they would across a process restart.
	require.NoError(t, store.Save(ctx, "job_1", checkpoint.State{
		"results":         []string{"r0", "r1"},
		ProcessedCountKey: 2,
		TotalCountKey:     4,
	}))
	prior, err := store.Load(ctx, "job_1")
	require.NoError(t, err)

	results, err := ProcessInBatches(ctx, c, []string{"a", "b", "c", "d"},
		func(_ context.Context, chunk []string) ([]string, error) { return chunk, nil },
		"job", "results", "job_1", prior)
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1", "c", "d"}, results)
}

func TestProcessInBatches_ChunkFailureLeavesLastGoodCheckpoint(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{BatchSize: 2, MaxRetries: 0, Checkpoints: true})
	ctx := context.Background()

	_, err := ProcessInBatches(ctx, c, []string{"a", "b", "c", "d"},
		func(_ context.Context, chunk []string) ([]string, error) {
			if chunk[0] == "c" {
				return nil, errors.New("lookup service down")
			}
			return chunk, nil
		},
		"job", "results", "job_1", nil)
	require.Error(t, err)

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 1, retryErr.Attempts)

	state, loadErr := store.Load(ctx, "job_1")
	require.NoError(t, loadErr)
	require.NotNil(t, state)
	assert.EqualValues(t, 2, state[ProcessedCountKey])
}

func TestProcessInBatches_ChunkRetries(t *testing.T) {
	c, _, rec := newTestCoordinator(t, Config{BatchSize: 2, MaxRetries: 2, RetryDelay: time.Millisecond, Checkpoints: true})
	failures := 0

	results, err := ProcessInBatches(context.Background(), c, []string{"a", "b"},
		func(_ context.Context, chunk []string) ([]string, error) {
			if failures < 2 {
				failures++
				return nil, errors.New("transient")
			}
			return chunk, nil
		},
		"job", "results", "job_1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, results)
	assert.Equal(t, 2, rec.count(progress.KindRetry))
}

func TestProcessInBatches_CarriesUnknownStateFields(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{BatchSize: 2, Checkpoints: true})
	ctx := context.Background()
	prior := checkpoint.State{
		"results":         []string{"r0", "r1"},
		ProcessedCountKey: 2,
		TotalCountKey:     4,
		"strategy_phase":  "uniprot_pass",
	}

	_, err := ProcessInBatches(ctx, c, []string{"a", "b", "c", "d"},
		func(_ context.Context, chunk []string) ([]string, error) { return chunk, nil },
		"job", "results", "job_1", prior)
	require.NoError(t, err)

	state, err := store.Load(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "uniprot_pass", state["strategy_phase"])
}

func TestPercentRounding(t *testing.T) {
	assert.Equal(t, 33.33, percent(1, 3))
	assert.Equal(t, 66.67, percent(2, 3))
	assert.Equal(t, float64(100), percent(3, 3))
	assert.Equal(t, float64(100), percent(0, 0))
}

func TestRestoreResults_TypedAndWireForm(t *testing.T) {
	typed, err := restoreResults[string]([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, typed)

	wire, err := restoreResults[string]([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, wire)

	none, err := restoreResults[string](nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}
