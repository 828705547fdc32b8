package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ohler55/ojg/oj"

	"github.com/arpanauts/biomapper/internal/checkpoint"
	"github.com/arpanauts/biomapper/internal/progress"
)

// Checkpoint state fields written by ProcessInBatches. The caller's
// checkpointKey holds the accumulated results; other fields found in a
// prior state are carried forward untouched.
const (
	ProcessedCountKey = "processed_count"
	TotalCountKey     = "total_count"
)

// ProcessInBatches splits items into chunks of the coordinator's batch
// size (the final chunk may be smaller), runs fn for each chunk under the
// bounded-retry policy, and accumulates results. After every successful
// chunk the accumulated results, processed count, and total count are
// checkpointed under executionID and a batch-completion event is broadcast.
//
// When a prior checkpoint state carries results under checkpointKey,
// processing resumes at the recorded processed count instead of restarting
// at zero. A chunk failure propagates immediately and leaves the checkpoint
// at the last completed chunk.
func ProcessInBatches[T any](ctx context.Context, c *Coordinator, items []string, fn func(ctx context.Context, chunk []string) ([]T, error), name, checkpointKey, executionID string, prior checkpoint.State) ([]T, error) {
	batchSize := c.cfg.BatchSize
	total := len(items)
	batches := (total + batchSize - 1) / batchSize

	var results []T
	processed := 0
	if prior != nil {
		if raw, ok := prior[checkpointKey]; ok {
			restored, err := restoreResults[T](raw)
			if err != nil {
				return nil, fmt.Errorf("restore %s from checkpoint %s: %w", checkpointKey, executionID, err)
			}
			results = restored
			processed = stateInt(prior[ProcessedCountKey])
			c.log.Info("resuming batched processing",
				"name", name, "execution_id", executionID,
				"processed", processed, "total", total)
		}
	}

	for start := processed; start < total; {
		end := start + batchSize
		if end > total {
			end = total
		}
		chunk := items[start:end]
		batchNum := start/batchSize + 1

		out, err := retryLoop(ctx, c, name, executionID, func() ([]T, error) {
			return fn(ctx, chunk)
		})
		if err != nil {
			return nil, err
		}
		results = append(results, out...)
		start = end
		processed = end

		state := cloneState(prior)
		state[checkpointKey] = results
		state[ProcessedCountKey] = processed
		state[TotalCountKey] = total
		if err := c.store.Save(ctx, executionID, state); err != nil {
			return nil, fmt.Errorf("save checkpoint for %s: %w", executionID, err)
		}

		ev := progress.NewEvent(progress.KindBatchCompleted, name, executionID)
		ev.Batch = batchNum
		ev.Batches = batches
		ev.Processed = processed
		ev.Total = total
		ev.Percent = percent(processed, total)
		c.bus.Broadcast(ev)
	}
	return results, nil
}

// percent is processed/total expressed as a percentage, rounded to two
// decimal places for reporting.
func percent(processed, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(processed)/float64(total)*100*100) / 100
}

// restoreResults recovers the accumulated result slice from a checkpoint
// blob. In-memory states hold []T directly; states read back from disk hold
// generic JSON values and are re-decoded through their wire form.
func restoreResults[T any](raw any) ([]T, error) {
	if raw == nil {
		return nil, nil
	}
	if typed, ok := raw.([]T); ok {
		return typed, nil
	}
	data, err := oj.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stateInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func cloneState(prior checkpoint.State) checkpoint.State {
	state := make(checkpoint.State, len(prior)+3)
	for k, v := range prior {
		state[k] = v
	}
	return state
}
