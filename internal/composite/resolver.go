package composite

import (
	"strings"

	"github.com/arpanauts/biomapper/api"
)

// Component is one atomic identifier produced by splitting a composite,
// tagged with the vocabulary its translation should use.
type Component struct {
	ID         string
	Vocabulary string
}

// Resolver splits and re-aggregates composite identifiers. It performs no
// I/O; patterns are loaded once at construction and read-only thereafter.
type Resolver struct {
	byVocab map[string][]*Pattern
}

// NewResolver builds a resolver over the given patterns.
func NewResolver(patterns []*Pattern) *Resolver {
	return &Resolver{byVocab: groupPatterns(patterns)}
}

// HasPatterns reports whether any pattern is registered for the vocabulary.
func (r *Resolver) HasPatterns(vocab string) bool {
	return len(r.byVocab[NormalizeVocabulary(vocab)]) > 0
}

// Split tests the identifier against the vocabulary's patterns in priority
// order. On the first regex match it applies the pattern's delimiters in
// sequence and returns the resulting components together with the matched
// pattern. A non-composite identifier comes back unchanged as its own
// single component.
func (r *Resolver) Split(identifier, vocab string) (bool, []string, *Pattern) {
	for _, p := range r.byVocab[NormalizeVocabulary(vocab)] {
		if p.Match.MatchString(identifier) {
			return true, splitByDelimiters(identifier, p.Delimiters), p
		}
	}
	return false, []string{identifier}, nil
}

// splitByDelimiters applies each delimiter pass to every current fragment,
// discarding empty and whitespace-only fragments.
func splitByDelimiters(identifier string, delimiters []string) []string {
	fragments := []string{identifier}
	for _, delim := range delimiters {
		next := make([]string, 0, len(fragments))
		for _, frag := range fragments {
			for _, part := range strings.Split(frag, delim) {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					next = append(next, trimmed)
				}
			}
		}
		fragments = next
	}
	return fragments
}

// ComponentVocabulary returns the vocabulary split components translate
// under: the parent vocabulary when the pattern keeps it, otherwise the
// declared component vocabulary, falling back to the parent.
func (r *Resolver) ComponentVocabulary(p *Pattern) string {
	if p.KeepParent || p.ComponentVocabulary == "" {
		return p.Vocabulary
	}
	return p.ComponentVocabulary
}

// PreprocessBatch splits every identifier for translation. Non-composite
// identifiers map to a single self-component under the batch vocabulary.
func (r *Resolver) PreprocessBatch(identifiers []string, vocab string) map[string][]Component {
	out := make(map[string][]Component, len(identifiers))
	for _, id := range identifiers {
		isComposite, parts, pattern := r.Split(id, vocab)
		if !isComposite {
			out[id] = []Component{{ID: id, Vocabulary: vocab}}
			continue
		}
		componentVocab := r.ComponentVocabulary(pattern)
		components := make([]Component, 0, len(parts))
		for _, part := range parts {
			components = append(components, Component{ID: part, Vocabulary: componentVocab})
		}
		out[id] = components
	}
	return out
}

// Aggregate folds per-component results back onto the original identifiers.
// componentResults is keyed by component id; preprocessed is the map
// produced by PreprocessBatch for the same batch. Identifiers without any
// qualifying result are absent from the output.
func (r *Resolver) Aggregate(originals []string, componentResults map[string]*api.Result, preprocessed map[string][]Component, vocab string) map[string]*api.Result {
	out := make(map[string]*api.Result, len(originals))
	for _, original := range originals {
		components := preprocessed[original]

		// Trivial self-mapping: pass the component result through unchanged.
		if len(components) == 1 && components[0].ID == original {
			if res, ok := componentResults[original]; ok {
				out[original] = res
			}
			continue
		}

		// Recover which pattern matched so its strategy is known. When the
		// registry changed between split and aggregate, fall back to
		// first-match semantics.
		strategy := FirstMatch
		if isComposite, _, pattern := r.Split(original, vocab); isComposite && pattern != nil {
			strategy = pattern.Aggregation
		}

		var aggregated *api.Result
		switch strategy {
		case FirstMatch:
			aggregated = firstMatch(components, componentResults)
		default:
			// all_matches, combined, and unrecognized strategy names all
			// union component values.
			aggregated = allMatches(components, componentResults)
		}
		if aggregated != nil {
			out[original] = aggregated
		}
	}
	return out
}

func firstMatch(components []Component, results map[string]*api.Result) *api.Result {
	for _, c := range components {
		if res := results[c.ID]; !res.Empty() {
			return res
		}
	}
	return nil
}

func allMatches(components []Component, results map[string]*api.Result) *api.Result {
	var values []string
	var provenance string
	seen := make(map[string]struct{})
	for _, c := range components {
		res := results[c.ID]
		if res.Empty() {
			continue
		}
		if provenance == "" {
			provenance = res.Provenance
		}
		for _, v := range res.Values {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return &api.Result{Values: values, Provenance: provenance}
}
