package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arpanauts/biomapper/api"
	"github.com/arpanauts/biomapper/internal/composite"
)

// AddResource registers a translation resource and returns its row id.
func (r *Repository) AddResource(ctx context.Context, name, client, input, output string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO mapping_resources (name, client, input_type, output_type) VALUES (?, ?, ?, ?)`,
		name, client, composite.NormalizeVocabulary(input), composite.NormalizeVocabulary(output))
	if err != nil {
		return 0, fmt.Errorf("add resource %s: %w", name, err)
	}
	return res.LastInsertId()
}

// AddPath inserts a path and its steps in one transaction and returns the
// path id. Step resources are referenced by Resource.ID; step order is taken
// from the slice position when Order is zero. Empty Source/Target are
// derived from the first step's input and the last step's output.
func (r *Repository) AddPath(ctx context.Context, p *api.Path) (int64, error) {
	if p.Name == "" {
		return 0, errors.New("add path: name is required")
	}
	source := composite.NormalizeVocabulary(p.Source)
	target := composite.NormalizeVocabulary(p.Target)
	if len(p.Steps) > 0 {
		if source == "" {
			first, err := r.resourceByID(ctx, p.Steps[0].Resource.ID)
			if err != nil {
				return 0, fmt.Errorf("add path %s: %w", p.Name, err)
			}
			source = first.Input
		}
		if target == "" {
			last, err := r.resourceByID(ctx, p.Steps[len(p.Steps)-1].Resource.ID)
			if err != nil {
				return 0, fmt.Errorf("add path %s: %w", p.Name, err)
			}
			target = last.Output
		}
	}
	if source == "" || target == "" {
		return 0, fmt.Errorf("add path %s: source and target vocabularies are required", p.Name)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add path %s: begin: %w", p.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	active := 0
	if p.Active {
		active = 1
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO mapping_paths (name, priority, source_type, target_type, active) VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.Priority, source, target, active)
	if err != nil {
		return 0, fmt.Errorf("add path %s: %w", p.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for i, s := range p.Steps {
		order := s.Order
		if order == 0 {
			order = i + 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mapping_path_steps (path_id, step_order, resource_id) VALUES (?, ?, ?)`,
			id, order, s.Resource.ID); err != nil {
			return 0, fmt.Errorf("add path %s step %d: %w", p.Name, order, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add path %s: commit: %w", p.Name, err)
	}

	stored, err := r.PathByID(ctx, id)
	if err != nil {
		return 0, err
	}
	r.indexPath(stored)
	return id, nil
}

// RelateEndpoints binds an existing path to an endpoint pair. The vocabulary
// pair is taken from the path's declaration.
func (r *Repository) RelateEndpoints(ctx context.Context, sourceEndpoint, targetEndpoint string, pathID int64) error {
	p, err := r.PathByID(ctx, pathID)
	if err != nil {
		return fmt.Errorf("relate endpoints %s/%s: %w", sourceEndpoint, targetEndpoint, err)
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO endpoint_relationships (source_endpoint, target_endpoint, source_type, target_type, path_id)
		 VALUES (?, ?, ?, ?, ?)`,
		sourceEndpoint, targetEndpoint, p.Source, p.Target, pathID); err != nil {
		return fmt.Errorf("relate endpoints %s/%s to path %d: %w", sourceEndpoint, targetEndpoint, pathID, err)
	}
	return nil
}

// AddPattern stores a composite identifier pattern and returns its row id.
func (r *Repository) AddPattern(ctx context.Context, p *composite.Pattern) (int64, error) {
	delims, err := json.Marshal(p.Delimiters)
	if err != nil {
		return 0, fmt.Errorf("add pattern for %s: encode delimiters: %w", p.Vocabulary, err)
	}
	keepParent := 0
	if p.KeepParent {
		keepParent = 1
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO composite_patterns (vocabulary, priority, match_regex, delimiters, component_vocabulary, keep_parent, aggregation)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Vocabulary, p.Priority, p.Match.String(), string(delims), p.ComponentVocabulary, keepParent, string(p.Aggregation))
	if err != nil {
		return 0, fmt.Errorf("add pattern for %s: %w", p.Vocabulary, err)
	}
	return res.LastInsertId()
}

// SetPathActive toggles a path's active flag. Deactivated paths drop out of
// every lookup but keep their structural index bits; StructuralPaths filters
// on the stored flag.
func (r *Repository) SetPathActive(ctx context.Context, pathID int64, active bool) error {
	flag := 0
	if active {
		flag = 1
	}
	res, err := r.db.ExecContext(ctx, `UPDATE mapping_paths SET active = ? WHERE id = ?`, flag, pathID)
	if err != nil {
		return fmt.Errorf("set path %d active=%v: %w", pathID, active, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("path %d: %w", pathID, ErrNotFound)
	}
	return nil
}

func (r *Repository) resourceByID(ctx context.Context, id int64) (*api.Resource, error) {
	res := &api.Resource{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, client, input_type, output_type FROM mapping_resources WHERE id = ?`, id).
		Scan(&res.ID, &res.Name, &res.Client, &res.Input, &res.Output)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load resource %d: %w", id, err)
	}
	return res, nil
}
