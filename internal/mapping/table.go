package mapping

import (
	"context"
	"fmt"
	"sync"

	"github.com/arpanauts/biomapper/api"
)

// TableExecutor serves step translations from in-memory lookup tables, one
// table per resource name. It backs tests and offline CLI runs where no
// external mapping service is reachable, and supports reverse translation
// through an inverted index built at load time.
type TableExecutor struct {
	mu      sync.RWMutex
	forward map[string]map[string][]string
	reverse map[string]map[string][]string
}

func NewTableExecutor() *TableExecutor {
	return &TableExecutor{
		forward: make(map[string]map[string][]string),
		reverse: make(map[string]map[string][]string),
	}
}

// Load installs (or replaces) the lookup table for a resource name and
// builds its inverted index.
func (t *TableExecutor) Load(resource string, table map[string][]string) {
	inverted := make(map[string][]string)
	for key, values := range table {
		for _, v := range values {
			inverted[v] = append(inverted[v], key)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forward[resource] = table
	t.reverse[resource] = inverted
}

func (t *TableExecutor) Translate(_ context.Context, resource api.Resource, identifiers []string) (map[string]*api.Result, error) {
	return t.lookup(t.forward, resource, identifiers)
}

func (t *TableExecutor) TranslateReverse(_ context.Context, resource api.Resource, identifiers []string) (map[string]*api.Result, error) {
	return t.lookup(t.reverse, resource, identifiers)
}

func (t *TableExecutor) lookup(tables map[string]map[string][]string, resource api.Resource, identifiers []string) (map[string]*api.Result, error) {
	t.mu.RLock()
	table, ok := tables[resource.Name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no lookup table loaded for resource %q", resource.Name)
	}

	out := make(map[string]*api.Result, len(identifiers))
	for _, id := range identifiers {
		values, ok := table[id]
		if !ok || len(values) == 0 {
			continue
		}
		out[id] = &api.Result{
			Values:     append([]string(nil), values...),
			Provenance: resource.Name,
		}
	}
	return out, nil
}

var (
	_ StepExecutor      = (*TableExecutor)(nil)
	_ ReverseTranslator = (*TableExecutor)(nil)
)
