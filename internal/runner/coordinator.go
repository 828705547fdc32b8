// Package runner drives execution of mapping work over identifier batches
// with checkpoint resume, bounded retry, sub-batch chunking, and progress
// broadcasting. The underlying work arrives as an injected function and
// stays free of these concerns.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/arpanauts/biomapper/internal/checkpoint"
	"github.com/arpanauts/biomapper/internal/progress"
)

// Config tunes the coordinator. Zero values fall back to defaults.
type Config struct {
	// BatchSize is the chunk size for ProcessInBatches.
	BatchSize int
	// MaxRetries bounds retry attempts beyond the first try. Zero disables
	// retries; negative selects the default.
	MaxRetries int
	// RetryDelay is the fixed (non-exponential) wait between attempts.
	RetryDelay time.Duration
	// Checkpoints enables checkpoint persistence. When false all checkpoint
	// operations are no-ops.
	Checkpoints bool
}

const (
	defaultBatchSize  = 250
	defaultMaxRetries = 3
	defaultRetryDelay = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// ExecFunc is the injected unit of work: translate the given identifiers,
// optionally resuming from a prior checkpoint state (nil on a fresh run).
type ExecFunc func(ctx context.Context, identifiers []string, state checkpoint.State) (any, error)

// Coordinator owns the checkpoint store and progress broadcaster shared by
// all executions in a process. Safe for concurrent use.
type Coordinator struct {
	store checkpoint.Store
	bus   *progress.Broadcaster
	cfg   Config
	log   *slog.Logger
}

// NewCoordinator creates a coordinator. A nil store, or Checkpoints=false,
// disables checkpointing; a nil broadcaster drops events; a nil logger
// means slog.Default().
func NewCoordinator(store checkpoint.Store, bus *progress.Broadcaster, cfg Config, log *slog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	if store == nil || !cfg.Checkpoints {
		store = checkpoint.Disabled{}
	}
	if bus == nil {
		bus = progress.NewBroadcaster(log)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: store, bus: bus, cfg: cfg, log: log}
}

// Broadcaster exposes the coordinator's progress bus so callers can attach
// listeners.
func (c *Coordinator) Broadcaster() *progress.Broadcaster { return c.bus }

type execOptions struct {
	executionID string
	resume      bool
}

// ExecOption adjusts a single execution.
type ExecOption func(*execOptions)

// WithExecutionID pins the execution id instead of deriving one from the
// name, keeping checkpoint and progress correlation stable across calls.
func WithExecutionID(id string) ExecOption {
	return func(o *execOptions) { o.executionID = id }
}

// WithoutResume starts fresh even when a checkpoint exists for the id.
func WithoutResume() ExecOption {
	return func(o *execOptions) { o.resume = false }
}

func applyOptions(opts []ExecOption) execOptions {
	o := execOptions{resume: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newExecutionID(name string) string {
	return fmt.Sprintf("%s_%d", name, time.Now().UnixMilli())
}

// ExecuteRobustly runs fn once over the identifiers with checkpoint load on
// entry, checkpoint delete on success, and started/completed/failed
// progress events. On failure the checkpoint record is deliberately kept so
// a later attempt can resume.
func (c *Coordinator) ExecuteRobustly(ctx context.Context, name string, identifiers []string, fn ExecFunc, opts ...ExecOption) (any, error) {
	o := applyOptions(opts)
	if o.executionID == "" {
		o.executionID = newExecutionID(name)
	}
	start := time.Now()

	var state checkpoint.State
	if o.resume {
		loaded, err := c.store.Load(ctx, o.executionID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint for %s: %w", o.executionID, err)
		}
		state = loaded
	}

	started := progress.NewEvent(progress.KindStarted, name, o.executionID)
	started.Total = len(identifiers)
	started.Resumed = state != nil
	c.bus.Broadcast(started)

	result, err := fn(ctx, identifiers, state)
	elapsed := time.Since(start)

	if err != nil {
		available := c.checkpointExists(ctx, o.executionID)
		failed := progress.NewEvent(progress.KindFailed, name, o.executionID)
		failed.Elapsed = elapsed
		failed.Error = err.Error()
		failed.CheckpointAvailable = available
		c.bus.Broadcast(failed)
		return nil, &ExecutionError{
			ExecutionID:         o.executionID,
			Elapsed:             elapsed,
			CheckpointAvailable: available,
			Err:                 err,
		}
	}

	completed := progress.NewEvent(progress.KindCompleted, name, o.executionID)
	completed.Elapsed = elapsed
	completed.Results = resultCount(result)
	c.bus.Broadcast(completed)

	if err := c.store.Delete(ctx, o.executionID); err != nil {
		c.log.Warn("failed to remove checkpoint after completion",
			"execution_id", o.executionID, "error", err)
	}
	return result, nil
}

// ExecuteWithRetry wraps ExecuteRobustly in a bounded retry loop: up to
// MaxRetries+1 attempts with a fixed delay between them, broadcasting a
// retry event before each wait. The execution id is fixed up front so
// retried attempts resume from the failed attempt's checkpoint.
func (c *Coordinator) ExecuteWithRetry(ctx context.Context, name string, identifiers []string, fn ExecFunc, opts ...ExecOption) (any, error) {
	o := applyOptions(opts)
	if o.executionID == "" {
		o.executionID = newExecutionID(name)
	}

	attempt := 0
	return retryLoop(ctx, c, name, o.executionID, func() (any, error) {
		attempt++
		execOpts := []ExecOption{WithExecutionID(o.executionID)}
		// Only the first attempt honors the caller's resume choice; retried
		// attempts always resume their own checkpoint.
		if attempt == 1 && !o.resume {
			execOpts = append(execOpts, WithoutResume())
		}
		return c.ExecuteRobustly(ctx, name, identifiers, fn, execOpts...)
	})
}

// retryLoop is the shared bounded retry mechanism behind ExecuteWithRetry
// and per-chunk processing in ProcessInBatches.
func retryLoop[T any](ctx context.Context, c *Coordinator, name, executionID string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := c.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		ev := progress.NewEvent(progress.KindRetry, name, executionID)
		ev.Attempt = attempt
		ev.MaxRetries = c.cfg.MaxRetries
		ev.Delay = c.cfg.RetryDelay
		ev.Error = err.Error()
		c.bus.Broadcast(ev)

		select {
		case <-ctx.Done():
			return zero, &RetryError{Name: name, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	return zero, &RetryError{Name: name, Attempts: attempts, Err: lastErr}
}

func (c *Coordinator) checkpointExists(ctx context.Context, executionID string) bool {
	state, err := c.store.Load(ctx, executionID)
	return err == nil && state != nil
}

// resultCount reports how many results an execution produced, for progress
// events over opaque executor return values.
func resultCount(result any) int {
	if result == nil {
		return 0
	}
	switch rv := reflect.ValueOf(result); rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len()
	default:
		return 1
	}
}
