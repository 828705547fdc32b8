// Package paths resolves candidate translation routes between identifier
// vocabularies. Results come back as directional adapters over repository
// paths, ordered by effective priority and cached per vocabulary pair.
package paths

import (
	"github.com/arpanauts/biomapper/api"
)

// ReversePenalty is added to a path's declared priority when it is walked
// in reverse, so forward routes win ties against inverted ones.
const ReversePenalty = 5

// Direction selects which way a path is walked.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// DirectionalPath is a read-only view of a repository path walked either
// forward or in reverse. It is constructed fresh per resolution call and
// never persisted; everything but direction delegates to the wrapped path.
type DirectionalPath struct {
	Path    *api.Path
	Reverse bool
}

// EffectivePriority is the declared priority plus the reverse penalty when
// the path is inverted.
func (d *DirectionalPath) EffectivePriority() int {
	if d.Reverse {
		return d.Path.Priority + ReversePenalty
	}
	return d.Path.Priority
}

// Direction reports which way this view walks the path.
func (d *DirectionalPath) Direction() Direction {
	if d.Reverse {
		return Reverse
	}
	return Forward
}

// Source is the vocabulary this view translates from.
func (d *DirectionalPath) Source() string {
	if d.Reverse {
		return d.Path.Target
	}
	return d.Path.Source
}

// Target is the vocabulary this view translates to.
func (d *DirectionalPath) Target() string {
	if d.Reverse {
		return d.Path.Source
	}
	return d.Path.Target
}

// Steps returns the path's steps in walk order. For a reverse view the
// declared order is inverted; the underlying path is never modified.
func (d *DirectionalPath) Steps() []api.Step {
	steps := d.Path.Steps
	out := make([]api.Step, len(steps))
	if !d.Reverse {
		copy(out, steps)
		return out
	}
	for i, s := range steps {
		out[len(steps)-1-i] = s
	}
	return out
}
