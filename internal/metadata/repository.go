// Package metadata is the SQLite-backed store for mapping paths, resources,
// endpoint relationships and composite identifier patterns. It implements
// paths.Repository and keeps a roaring bitmap index over step vocabularies so
// structural lookups avoid a full table scan.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	_ "modernc.org/sqlite"

	"github.com/arpanauts/biomapper/api"
	"github.com/arpanauts/biomapper/internal/composite"
)

// ErrNotFound is returned when a row the caller named does not exist.
var ErrNotFound = errors.New("metadata: not found")

const schema = `
CREATE TABLE IF NOT EXISTS mapping_resources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	client TEXT NOT NULL,
	input_type TEXT NOT NULL,
	output_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mapping_paths (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	priority INTEGER NOT NULL DEFAULT 10,
	source_type TEXT NOT NULL,
	target_type TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_paths_pair ON mapping_paths(source_type, target_type, active);

CREATE TABLE IF NOT EXISTS mapping_path_steps (
	path_id INTEGER NOT NULL REFERENCES mapping_paths(id),
	step_order INTEGER NOT NULL,
	resource_id INTEGER NOT NULL REFERENCES mapping_resources(id),
	PRIMARY KEY (path_id, step_order)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS endpoint_relationships (
	source_endpoint TEXT NOT NULL,
	target_endpoint TEXT NOT NULL,
	source_type TEXT NOT NULL,
	target_type TEXT NOT NULL,
	path_id INTEGER NOT NULL REFERENCES mapping_paths(id),
	PRIMARY KEY (source_endpoint, target_endpoint, source_type, target_type, path_id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS composite_patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vocabulary TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 10,
	match_regex TEXT NOT NULL,
	delimiters JSON NOT NULL,
	component_vocabulary TEXT NOT NULL DEFAULT '',
	keep_parent INTEGER NOT NULL DEFAULT 0,
	aggregation TEXT NOT NULL DEFAULT 'first_match'
);
`

// Repository wraps the metadata database. Safe for concurrent use; the
// bitmap index is rebuilt on open and updated incrementally by writes.
type Repository struct {
	db  *sql.DB
	log *slog.Logger

	// Structural index: path ids keyed by the first step's input vocabulary
	// and by the last step's output vocabulary.
	mu         sync.RWMutex
	firstInput map[string]*roaring.Bitmap
	lastOutput map[string]*roaring.Bitmap
}

// Open opens (creating if needed) the metadata database at path and builds
// the structural index. Use ":memory:" for an ephemeral store.
func Open(path string, log *slog.Logger) (*Repository, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate metadata schema: %w", err)
	}

	r := &Repository{
		db:         db,
		log:        log,
		firstInput: make(map[string]*roaring.Bitmap),
		lastOutput: make(map[string]*roaring.Bitmap),
	}
	if err := r.rebuildIndex(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// DeclaredPaths returns active paths declared for exactly this vocabulary
// pair, ascending by priority.
func (r *Repository) DeclaredPaths(ctx context.Context, source, target string) ([]*api.Path, error) {
	return r.queryPaths(ctx,
		`SELECT id, name, priority, source_type, target_type, active
		 FROM mapping_paths
		 WHERE source_type = ? AND target_type = ? AND active = 1
		 ORDER BY priority, id`,
		composite.NormalizeVocabulary(source), composite.NormalizeVocabulary(target))
}

// StructuralPaths returns active paths whose first step consumes source and
// whose last step produces target, regardless of what the path declares.
// Resolution is a bitmap intersection over the in-memory index.
func (r *Repository) StructuralPaths(ctx context.Context, source, target string) ([]*api.Path, error) {
	r.mu.RLock()
	first := r.firstInput[composite.NormalizeVocabulary(source)]
	last := r.lastOutput[composite.NormalizeVocabulary(target)]
	r.mu.RUnlock()
	if first == nil || last == nil {
		return nil, nil
	}

	var out []*api.Path
	it := roaring.And(first, last).Iterator()
	for it.HasNext() {
		p, err := r.PathByID(ctx, int64(it.Next()))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Active {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RelationshipPaths returns active paths bound to the endpoint pair for the
// given vocabulary pair, ascending by priority.
func (r *Repository) RelationshipPaths(ctx context.Context, sourceEndpoint, targetEndpoint, source, target string) ([]*api.Path, error) {
	return r.queryPaths(ctx,
		`SELECT p.id, p.name, p.priority, p.source_type, p.target_type, p.active
		 FROM endpoint_relationships er
		 JOIN mapping_paths p ON p.id = er.path_id
		 WHERE er.source_endpoint = ? AND er.target_endpoint = ?
		   AND er.source_type = ? AND er.target_type = ? AND p.active = 1
		 ORDER BY p.priority, p.id`,
		sourceEndpoint, targetEndpoint,
		composite.NormalizeVocabulary(source), composite.NormalizeVocabulary(target))
}

// PathDetails returns step-level diagnostics for one path.
func (r *Repository) PathDetails(ctx context.Context, pathID int64) (map[string]any, error) {
	p, err := r.PathByID(ctx, pathID)
	if err != nil {
		return nil, err
	}
	details := map[string]any{
		"name":       p.Name,
		"priority":   p.Priority,
		"step_count": len(p.Steps),
	}
	for _, s := range p.Steps {
		key := fmt.Sprintf("step_%d", s.Order)
		details[key] = fmt.Sprintf("%s: %s -> %s", s.Resource.Name, s.Resource.Input, s.Resource.Output)
	}
	return details, nil
}

// PathByID loads one path with its steps. Returns ErrNotFound for unknown ids.
func (r *Repository) PathByID(ctx context.Context, id int64) (*api.Path, error) {
	p := &api.Path{}
	var active int
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, priority, source_type, target_type, active
		 FROM mapping_paths WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Priority, &p.Source, &p.Target, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("path %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load path %d: %w", id, err)
	}
	p.Active = active != 0
	if p.Steps, err = r.loadSteps(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPatterns returns all composite identifier patterns, compiled and
// validated. A malformed row fails the whole load so configuration errors
// surface at startup rather than mid-run.
func (r *Repository) LoadPatterns(ctx context.Context) ([]*composite.Pattern, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT vocabulary, priority, match_regex, delimiters, component_vocabulary, keep_parent, aggregation
		 FROM composite_patterns ORDER BY vocabulary, priority, id`)
	if err != nil {
		return nil, fmt.Errorf("query composite patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []*composite.Pattern
	for rows.Next() {
		var vocab, expr, rawDelims, componentVocab, aggregation string
		var priority, keepParent int
		if err := rows.Scan(&vocab, &priority, &expr, &rawDelims, &componentVocab, &keepParent, &aggregation); err != nil {
			return nil, fmt.Errorf("scan composite pattern: %w", err)
		}
		var delims []string
		if err := json.Unmarshal([]byte(rawDelims), &delims); err != nil {
			return nil, fmt.Errorf("pattern for %s: decode delimiters: %w", vocab, err)
		}
		p, err := composite.NewPattern(vocab, priority, expr, delims, componentVocab, keepParent != 0, aggregation)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func (r *Repository) queryPaths(ctx context.Context, query string, args ...any) ([]*api.Path, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*api.Path
	for rows.Next() {
		p := &api.Path{}
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Priority, &p.Source, &p.Target, &active); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		p.Active = active != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range out {
		if p.Steps, err = r.loadSteps(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository) loadSteps(ctx context.Context, pathID int64) ([]api.Step, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.step_order, res.id, res.name, res.client, res.input_type, res.output_type
		 FROM mapping_path_steps s
		 JOIN mapping_resources res ON res.id = s.resource_id
		 WHERE s.path_id = ?
		 ORDER BY s.step_order`, pathID)
	if err != nil {
		return nil, fmt.Errorf("load steps for path %d: %w", pathID, err)
	}
	defer func() { _ = rows.Close() }()

	var steps []api.Step
	for rows.Next() {
		var s api.Step
		if err := rows.Scan(&s.Order, &s.Resource.ID, &s.Resource.Name, &s.Resource.Client, &s.Resource.Input, &s.Resource.Output); err != nil {
			return nil, fmt.Errorf("scan step for path %d: %w", pathID, err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// rebuildIndex scans every path and populates the structural bitmaps.
func (r *Repository) rebuildIndex(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM mapping_paths")
	if err != nil {
		return fmt.Errorf("scan paths for structural index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		p, err := r.PathByID(ctx, id)
		if err != nil {
			return err
		}
		r.indexPath(p)
	}
	r.log.Debug("structural index built", "paths", len(ids))
	return nil
}

// indexPath records a path's first-step input and last-step output in the
// structural bitmaps. Paths without steps are not structurally reachable.
func (r *Repository) indexPath(p *api.Path) {
	if len(p.Steps) == 0 {
		return
	}
	in := composite.NormalizeVocabulary(p.Steps[0].Resource.Input)
	out := composite.NormalizeVocabulary(p.Steps[len(p.Steps)-1].Resource.Output)

	r.mu.Lock()
	defer r.mu.Unlock()
	bm, ok := r.firstInput[in]
	if !ok {
		bm = roaring.New()
		r.firstInput[in] = bm
	}
	bm.Add(uint32(p.ID))

	bm, ok = r.lastOutput[out]
	if !ok {
		bm = roaring.New()
		r.lastOutput[out] = bm
	}
	bm.Add(uint32(p.ID))
}
