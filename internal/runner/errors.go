package runner

import (
	"fmt"
	"time"
)

// ExecutionError reports a single failed execution attempt.
type ExecutionError struct {
	ExecutionID         string
	Elapsed             time.Duration
	CheckpointAvailable bool
	Err                 error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s failed after %s (checkpoint available: %t): %v",
		e.ExecutionID, e.Elapsed.Round(time.Millisecond), e.CheckpointAvailable, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RetryError reports retry exhaustion: the total attempt count and the last
// underlying error. Intermediate attempt errors are visible only through
// progress events.
type RetryError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }
