package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arpanauts/biomapper/api"
	"github.com/arpanauts/biomapper/internal/paths"
)

// PathWalker executes a directional path by chaining its steps: each step
// translates the current identifier frontier through the resource's
// registered client, and translated values stay attributed to the
// identifier that started the walk.
type PathWalker struct {
	registry *ExecutorRegistry
	log      *slog.Logger
}

func NewPathWalker(registry *ExecutorRegistry, log *slog.Logger) *PathWalker {
	if log == nil {
		log = slog.Default()
	}
	return &PathWalker{registry: registry, log: log}
}

// Execute walks the path for the given identifiers. Identifiers whose
// frontier empties out along the way are absent from the result; the rest
// carry the path name as provenance.
func (w *PathWalker) Execute(ctx context.Context, path *paths.DirectionalPath, identifiers []string) (map[string]*api.Result, error) {
	steps := path.Steps()
	if len(steps) == 0 {
		return nil, fmt.Errorf("path %s has no steps", path.Path.Name)
	}

	frontier := make(map[string][]string, len(identifiers))
	for _, id := range identifiers {
		frontier[id] = []string{id}
	}

	for _, step := range steps {
		ex, err := w.registry.Lookup(step.Resource.Client)
		if err != nil {
			return nil, fmt.Errorf("path %s step %d: %w", path.Path.Name, step.Order, err)
		}

		batch := workingSet(identifiers, frontier)
		if len(batch) == 0 {
			break
		}
		translated, err := translate(ctx, ex, path.Reverse, step.Resource, batch)
		if err != nil {
			return nil, fmt.Errorf("path %s step %d (%s): %w", path.Path.Name, step.Order, step.Resource.Name, err)
		}
		for _, id := range identifiers {
			frontier[id] = advance(frontier[id], translated)
		}
		w.log.Debug("path step translated",
			"path", path.Path.Name, "step", step.Order,
			"resource", step.Resource.Name, "in", len(batch), "out", len(translated))
	}

	out := make(map[string]*api.Result, len(identifiers))
	for _, id := range identifiers {
		if values := frontier[id]; len(values) > 0 {
			out[id] = &api.Result{Values: values, Provenance: path.Path.Name}
		}
	}
	return out, nil
}

func translate(ctx context.Context, ex StepExecutor, reverse bool, resource api.Resource, identifiers []string) (map[string]*api.Result, error) {
	if !reverse {
		return ex.Translate(ctx, resource, identifiers)
	}
	rt, ok := ex.(ReverseTranslator)
	if !ok {
		return nil, fmt.Errorf("client %q cannot translate in reverse", resource.Client)
	}
	return rt.TranslateReverse(ctx, resource, identifiers)
}

// workingSet collects the distinct identifiers still live across all
// frontiers, in first-seen order.
func workingSet(identifiers []string, frontier map[string][]string) []string {
	var batch []string
	seen := make(map[string]struct{})
	for _, id := range identifiers {
		for _, cur := range frontier[id] {
			if _, dup := seen[cur]; dup {
				continue
			}
			seen[cur] = struct{}{}
			batch = append(batch, cur)
		}
	}
	return batch
}

// advance maps one identifier's frontier through a step's translations,
// deduplicating fan-out.
func advance(current []string, translated map[string]*api.Result) []string {
	var next []string
	seen := make(map[string]struct{})
	for _, cur := range current {
		res := translated[cur]
		if res.Empty() {
			continue
		}
		for _, v := range res.Values {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			next = append(next, v)
		}
	}
	return next
}
