// Package composite detects identifiers that concatenate several atomic
// identifiers (per configurable delimiter/regex rules), splits them for
// translation, and re-aggregates per-component results afterward.
// Translation clients never see composites.
package composite

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// ErrInvalidPattern marks malformed pattern configuration. It is raised
// during registry initialization, never during per-identifier processing.
var ErrInvalidPattern = errors.New("invalid composite pattern")

// Strategy names how per-component results fold back onto the original
// identifier.
type Strategy string

const (
	// FirstMatch keeps the first component result with any values.
	FirstMatch Strategy = "first_match"
	// AllMatches unions every component's values in first-seen order.
	AllMatches Strategy = "all_matches"
	// Combined currently behaves exactly like AllMatches. Dedicated
	// combine semantics are still undecided upstream; do not rely on the
	// two names diverging yet.
	Combined Strategy = "combined"
)

// Pattern describes how one vocabulary's identifiers may be composite.
type Pattern struct {
	// Vocabulary is the case-normalized vocabulary this pattern applies to.
	Vocabulary string
	// Priority orders evaluation when a vocabulary has several patterns;
	// lower runs first.
	Priority int
	// Match detects composite identifiers.
	Match *regexp.Regexp
	// Delimiters are applied in sequence; each pass re-splits every current
	// fragment.
	Delimiters []string
	// ComponentVocabulary is the vocabulary assigned to split components.
	// Empty, or KeepParent, means components keep the parent vocabulary.
	ComponentVocabulary string
	KeepParent          bool
	// Aggregation selects the fold-back strategy.
	Aggregation Strategy
}

// NewPattern validates and compiles one pattern definition.
func NewPattern(vocabulary string, priority int, expr string, delimiters []string, componentVocabulary string, keepParent bool, aggregation string) (*Pattern, error) {
	vocab := NormalizeVocabulary(vocabulary)
	if vocab == "" {
		return nil, fmt.Errorf("%w: vocabulary is required", ErrInvalidPattern)
	}
	if expr == "" {
		return nil, fmt.Errorf("%w: pattern for %s has no detection regex", ErrInvalidPattern, vocab)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern for %s: %v", ErrInvalidPattern, vocab, err)
	}
	if len(delimiters) == 0 {
		return nil, fmt.Errorf("%w: pattern for %s has no delimiters", ErrInvalidPattern, vocab)
	}
	agg := Strategy(aggregation)
	if agg == "" {
		agg = FirstMatch
	}
	return &Pattern{
		Vocabulary:          vocab,
		Priority:            priority,
		Match:               re,
		Delimiters:          delimiters,
		ComponentVocabulary: NormalizeVocabulary(componentVocabulary),
		KeepParent:          keepParent,
		Aggregation:         agg,
	}, nil
}

// NormalizeVocabulary canonicalizes a vocabulary id for lookups.
func NormalizeVocabulary(vocab string) string {
	return strings.ToUpper(strings.TrimSpace(vocab))
}

// HCL schema for pattern definition files.
type patternBlock struct {
	Vocabulary          string   `hcl:"vocabulary,label"`
	Priority            int      `hcl:"priority,optional"`
	Match               string   `hcl:"match"`
	Delimiters          []string `hcl:"delimiters"`
	ComponentVocabulary string   `hcl:"component_vocabulary,optional"`
	KeepParent          bool     `hcl:"keep_parent_vocabulary,optional"`
	Aggregation         string   `hcl:"aggregation,optional"`
}

type patternsFile struct {
	Patterns []patternBlock `hcl:"pattern,block"`
}

// LoadHCL reads pattern definitions from an HCL file, e.g.
//
//	pattern "HMDB" {
//	  priority    = 1
//	  match       = "^HMDB[0-9]+(,HMDB[0-9]+)+$"
//	  delimiters  = [","]
//	  aggregation = "all_matches"
//	}
func LoadHCL(path string) ([]*Pattern, error) {
	var file patternsFile
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("load composite patterns %s: %w", path, err)
	}
	patterns := make([]*Pattern, 0, len(file.Patterns))
	for _, b := range file.Patterns {
		p, err := NewPattern(b.Vocabulary, b.Priority, b.Match, b.Delimiters, b.ComponentVocabulary, b.KeepParent, b.Aggregation)
		if err != nil {
			return nil, fmt.Errorf("load composite patterns %s: %w", path, err)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// groupPatterns indexes patterns by vocabulary, sorted by priority. Order
// among equal priorities follows definition order.
func groupPatterns(patterns []*Pattern) map[string][]*Pattern {
	byVocab := make(map[string][]*Pattern)
	for _, p := range patterns {
		byVocab[p.Vocabulary] = append(byVocab[p.Vocabulary], p)
	}
	for _, group := range byVocab {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Priority < group[j].Priority
		})
	}
	return byVocab
}
