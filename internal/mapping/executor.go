// Package mapping orchestrates identifier translation: it resolves the best
// path for a vocabulary pair, walks the path's steps through registered
// clients, and folds composite components back onto their originals.
package mapping

import (
	"context"
	"fmt"
	"sync"

	"github.com/arpanauts/biomapper/api"
)

// StepExecutor performs one vocabulary translation through a resource's
// client. Implementations own their transport (HTTP service, local table,
// database) and must be safe for concurrent use.
//
// The returned map is keyed by input identifier; identifiers the client
// could not translate are simply absent.
type StepExecutor interface {
	Translate(ctx context.Context, resource api.Resource, identifiers []string) (map[string]*api.Result, error)
}

// ReverseTranslator is implemented by step executors that can run a
// resource's mapping backwards, from its output vocabulary to its input
// vocabulary. Reverse-direction paths need it on every step's client.
type ReverseTranslator interface {
	TranslateReverse(ctx context.Context, resource api.Resource, identifiers []string) (map[string]*api.Result, error)
}

// UnknownClientError reports a resource whose declared client name has no
// registered executor.
type UnknownClientError struct {
	Client string
}

func (e *UnknownClientError) Error() string {
	return fmt.Sprintf("no step executor registered for client %q", e.Client)
}

// ExecutorRegistry maps client names to step executors. Clients register at
// startup; lookups are read-only afterwards.
type ExecutorRegistry struct {
	mu     sync.RWMutex
	byName map[string]StepExecutor
}

func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{byName: make(map[string]StepExecutor)}
}

// Register binds a client name to an executor, replacing any prior binding.
func (r *ExecutorRegistry) Register(client string, ex StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[client] = ex
}

// Lookup returns the executor registered for the client name, or an
// UnknownClientError.
func (r *ExecutorRegistry) Lookup(client string) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.byName[client]
	if !ok {
		return nil, &UnknownClientError{Client: client}
	}
	return ex, nil
}
