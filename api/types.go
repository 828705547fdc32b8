// Package api defines the public domain types of biomapper: mapping paths,
// their steps and resources, and translation results. These types are
// read-only views over the metadata repository — nothing in this module
// mutates a Path after it has been loaded.
package api

// Resource describes one translation capability: which vocabulary pair it
// converts and which registered client performs the lookup.
type Resource struct {
	// ID is the repository row id.
	ID int64 `json:"id"`
	// Name is the human-readable resource name (e.g. "unichem").
	Name string `json:"name"`
	// Client names the step executor registered for this resource.
	Client string `json:"client"`
	// Input is the vocabulary this resource translates from.
	Input string `json:"input"`
	// Output is the vocabulary this resource translates to.
	Output string `json:"output"`
}

// Step is one link in a mapping path. Steps are contiguous and 1-based;
// Order N feeds its output into Order N+1.
type Step struct {
	Order    int      `json:"order"`
	Resource Resource `json:"resource"`
}

// Path is an ordered sequence of translation steps connecting a source
// vocabulary to a target vocabulary. Lower Priority is preferred.
type Path struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	// Source and Target are the declared endpoint vocabularies. For paths
	// declared only by their steps, these mirror the first step's input and
	// the last step's output.
	Source string `json:"source"`
	Target string `json:"target"`
	Active bool   `json:"active"`
	Steps  []Step `json:"steps"`
}

// Result is the outcome of translating one identifier.
type Result struct {
	// Values holds the translated identifiers, ordered by first occurrence.
	Values []string `json:"values"`
	// Provenance names the resource or component that produced Values.
	Provenance string `json:"provenance,omitempty"`
}

// Empty reports whether the result carries no translated values.
func (r *Result) Empty() bool {
	return r == nil || len(r.Values) == 0
}
