package paths

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/arpanauts/biomapper/api"
)

// Repository is the read-only metadata source the finder queries. See
// internal/metadata for the SQLite implementation.
type Repository interface {
	// DeclaredPaths returns active paths whose declared source/target
	// vocabularies match exactly, ascending by priority.
	DeclaredPaths(ctx context.Context, source, target string) ([]*api.Path, error)
	// StructuralPaths returns active paths whose first step's input and last
	// step's output vocabularies match, ascending by priority. It backs
	// paths that only declare per-step vocabularies.
	StructuralPaths(ctx context.Context, source, target string) ([]*api.Path, error)
	// RelationshipPaths returns active paths explicitly associated with an
	// endpoint pair for the given vocabulary pair, ascending by priority.
	RelationshipPaths(ctx context.Context, sourceEndpoint, targetEndpoint, source, target string) ([]*api.Path, error)
	// PathDetails returns step-level metadata for diagnostics. Best-effort:
	// callers must tolerate an empty map.
	PathDetails(ctx context.Context, pathID int64) (map[string]any, error)
}

// Query describes one path resolution request.
type Query struct {
	Source        string
	Target        string
	Bidirectional bool
	// Preferred orders same-effective-priority results; empty means Forward.
	Preferred Direction
	// SourceEndpoint/TargetEndpoint scope the search to an endpoint pair.
	// When set and relationship-scoped paths exist, those take absolute
	// precedence over generic discovery.
	SourceEndpoint string
	TargetEndpoint string
}

func (q Query) cacheKey() string {
	return strings.Join([]string{
		q.Source, q.Target,
		fmt.Sprintf("%t", q.Bidirectional),
		string(q.Preferred),
		q.SourceEndpoint, q.TargetEndpoint,
	}, "|")
}

// ResolutionError wraps a repository failure during path search. It carries
// the attempted vocabulary pair and is never retried by the finder.
type ResolutionError struct {
	Source string
	Target string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve paths %s -> %s: %v", e.Source, e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Finder discovers, ranks, and caches directional paths between vocabulary
// pairs. The cache evicts by capacity and expires entries after the
// configured TTL; repository queries never run under the cache lock.
type Finder struct {
	repo  Repository
	cache *expirable.LRU[string, []*DirectionalPath]
	log   *slog.Logger
}

// NewFinder creates a finder with a cache of at most size entries, each
// living at most ttl. size <= 0 means unbounded; ttl <= 0 means no expiry.
func NewFinder(repo Repository, size int, ttl time.Duration, log *slog.Logger) *Finder {
	if log == nil {
		log = slog.Default()
	}
	return &Finder{
		repo:  repo,
		cache: expirable.NewLRU[string, []*DirectionalPath](size, nil, ttl),
		log:   log,
	}
}

// FindPaths returns the usable directional paths for the query, ascending
// by effective priority. An empty result is not an error.
func (f *Finder) FindPaths(ctx context.Context, q Query) ([]*DirectionalPath, error) {
	if q.Source == "" || q.Target == "" {
		return nil, fmt.Errorf("find paths: source and target vocabularies are required")
	}
	if q.Preferred == "" {
		q.Preferred = Forward
	}
	if q.Preferred != Forward && q.Preferred != Reverse {
		return nil, fmt.Errorf("find paths: invalid preferred direction %q", q.Preferred)
	}

	// Peek keeps hits from refreshing recency, so capacity eviction drops
	// the oldest insert rather than the least recently read entry.
	key := q.cacheKey()
	if cached, ok := f.cache.Peek(key); ok {
		out := make([]*DirectionalPath, len(cached))
		copy(out, cached)
		return out, nil
	}

	forward, reverse, err := f.search(ctx, q)
	if err != nil {
		return nil, err
	}

	// Two direction blocks, preferred first; repository ordering (ascending
	// declared priority) is preserved within each block.
	var all []*DirectionalPath
	if q.Preferred == Reverse {
		all = append(all, reverse...)
		all = append(all, forward...)
	} else {
		all = append(all, forward...)
		all = append(all, reverse...)
	}

	// Stable sort keeps the directional-preference order between entries of
	// equal effective priority.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].EffectivePriority() < all[j].EffectivePriority()
	})

	f.cache.Add(key, all)

	out := make([]*DirectionalPath, len(all))
	copy(out, all)
	return out, nil
}

// FindBestPath returns the top-ranked path for the query, or nil when no
// path exists.
func (f *Finder) FindBestPath(ctx context.Context, q Query) (*DirectionalPath, error) {
	found, err := f.FindPaths(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// ClearCache drops all cached resolutions immediately.
func (f *Finder) ClearCache() {
	f.cache.Purge()
}

// search runs the repository queries for the forward and reverse direction
// blocks, without consulting or touching the cache.
func (f *Finder) search(ctx context.Context, q Query) (forward, reverse []*DirectionalPath, err error) {
	if q.SourceEndpoint != "" || q.TargetEndpoint != "" {
		rels, err := f.repo.RelationshipPaths(ctx, q.SourceEndpoint, q.TargetEndpoint, q.Source, q.Target)
		if err != nil {
			return nil, nil, &ResolutionError{Source: q.Source, Target: q.Target, Err: err}
		}
		if len(rels) > 0 {
			f.logPathDetails(ctx, rels[0])
			forward = wrap(rels, false)
			if q.Bidirectional {
				revRels, err := f.repo.RelationshipPaths(ctx, q.TargetEndpoint, q.SourceEndpoint, q.Target, q.Source)
				if err != nil {
					return nil, nil, &ResolutionError{Source: q.Target, Target: q.Source, Err: err}
				}
				reverse = wrap(revRels, true)
			}
			return forward, reverse, nil
		}
	}

	if !q.Bidirectional {
		fwd, err := f.genericSearch(ctx, q.Source, q.Target)
		if err != nil {
			return nil, nil, &ResolutionError{Source: q.Source, Target: q.Target, Err: err}
		}
		return wrap(fwd, false), nil, nil
	}

	// Both directions hit the repository concurrently; the reverse leg runs
	// on its own goroutine while the forward leg proceeds inline.
	type legResult struct {
		found []*api.Path
		err   error
	}
	revCh := make(chan legResult, 1)
	go func() {
		found, err := f.genericSearch(ctx, q.Target, q.Source)
		revCh <- legResult{found: found, err: err}
	}()

	fwd, fwdErr := f.genericSearch(ctx, q.Source, q.Target)
	rev := <-revCh

	if fwdErr != nil {
		return nil, nil, &ResolutionError{Source: q.Source, Target: q.Target, Err: fwdErr}
	}
	if rev.err != nil {
		return nil, nil, &ResolutionError{Source: q.Target, Target: q.Source, Err: rev.err}
	}
	return wrap(fwd, false), wrap(rev.found, true), nil
}

// genericSearch looks up declared paths for the pair and falls back to the
// structural first-step/last-step match when none are declared.
func (f *Finder) genericSearch(ctx context.Context, source, target string) ([]*api.Path, error) {
	declared, err := f.repo.DeclaredPaths(ctx, source, target)
	if err != nil {
		return nil, err
	}
	if len(declared) > 0 {
		return onlyActive(declared), nil
	}
	structural, err := f.repo.StructuralPaths(ctx, source, target)
	if err != nil {
		return nil, err
	}
	return onlyActive(structural), nil
}

// logPathDetails surfaces step-level metadata for a relationship-scoped
// match. Failures degrade to an empty detail set and never fail resolution.
func (f *Finder) logPathDetails(ctx context.Context, p *api.Path) {
	details, err := f.repo.PathDetails(ctx, p.ID)
	if err != nil {
		details = map[string]any{}
		f.log.Debug("path details unavailable", "path_id", p.ID, "error", err)
	}
	f.log.Debug("relationship path selected",
		"path_id", p.ID, "name", p.Name, "steps", len(p.Steps), "details", len(details))
}

func onlyActive(found []*api.Path) []*api.Path {
	out := found[:0:0]
	for _, p := range found {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

func wrap(found []*api.Path, reverse bool) []*DirectionalPath {
	out := make([]*DirectionalPath, 0, len(found))
	for _, p := range found {
		out = append(out, &DirectionalPath{Path: p, Reverse: reverse})
	}
	return out
}
