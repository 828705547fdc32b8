// Package progress fans out execution lifecycle and batch-progress events
// to zero or more listeners. Broadcast is fire-and-forget: a listener error
// is logged and never aborts the operation being reported on.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a progress event describes.
type Kind string

const (
	KindStarted        Kind = "started"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
	KindRetry          Kind = "retry"
	KindBatchCompleted Kind = "batch_completed"
)

// Event is one immutable progress record. Unused fields stay zero; which
// fields are meaningful depends on Kind.
type Event struct {
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	Name        string        `json:"name"`
	ExecutionID string        `json:"execution_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Elapsed     time.Duration `json:"elapsed,omitempty"`

	// Batch progress (KindBatchCompleted).
	Batch     int     `json:"batch,omitempty"`
	Batches   int     `json:"batches,omitempty"`
	Processed int     `json:"processed,omitempty"`
	Total     int     `json:"total,omitempty"`
	Percent   float64 `json:"percent,omitempty"`

	// Retry bookkeeping (KindRetry).
	Attempt    int           `json:"attempt,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`

	// Lifecycle flags.
	Resumed             bool   `json:"resumed,omitempty"`
	CheckpointAvailable bool   `json:"checkpoint_available,omitempty"`
	Results             int    `json:"results,omitempty"`
	Error               string `json:"error,omitempty"`
}

// NewEvent builds an event of the given kind with id and timestamp filled.
func NewEvent(kind Kind, name, executionID string) Event {
	return Event{
		ID:          uuid.New().String(),
		Kind:        kind,
		Name:        name,
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC(),
	}
}

// Listener receives broadcast events. Implementations must not block for
// long; a returned error is logged by the broadcaster and otherwise ignored.
type Listener interface {
	OnEvent(Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event) error

func (f ListenerFunc) OnEvent(e Event) error { return f(e) }

// Broadcaster delivers events to a mutable set of listeners.
type Broadcaster struct {
	mu        sync.Mutex
	listeners []Listener
	log       *slog.Logger
}

// NewBroadcaster creates a broadcaster. A nil logger means slog.Default().
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log}
}

// AddListener registers a listener for future broadcasts.
func (b *Broadcaster) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// RemoveListener unregisters a previously added listener. Comparison is by
// interface identity, so the same value passed to AddListener must be used.
func (b *Broadcaster) RemoveListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.listeners {
		if existing == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Broadcast delivers the event to every listener. Listener panics are not
// recovered — listeners are in-process collaborators, not plugins — but
// errors are swallowed after logging so reporting can never fail a run.
func (b *Broadcaster) Broadcast(e Event) {
	b.mu.Lock()
	snapshot := make([]Listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		if err := l.OnEvent(e); err != nil {
			b.log.Warn("progress listener failed",
				"kind", string(e.Kind),
				"execution_id", e.ExecutionID,
				"error", err)
		}
	}
}
