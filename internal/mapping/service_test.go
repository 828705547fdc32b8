package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper/api"
	"github.com/arpanauts/biomapper/internal/checkpoint"
	"github.com/arpanauts/biomapper/internal/composite"
	"github.com/arpanauts/biomapper/internal/paths"
	"github.com/arpanauts/biomapper/internal/progress"
	"github.com/arpanauts/biomapper/internal/runner"
)

// stubRepo serves declared paths from a fixed map keyed by "source|target".
type stubRepo struct {
	declared map[string][]*api.Path
}

func (r *stubRepo) DeclaredPaths(_ context.Context, source, target string) ([]*api.Path, error) {
	return r.declared[source+"|"+target], nil
}

func (r *stubRepo) StructuralPaths(context.Context, string, string) ([]*api.Path, error) {
	return nil, nil
}

func (r *stubRepo) RelationshipPaths(context.Context, string, string, string, string) ([]*api.Path, error) {
	return nil, nil
}

func (r *stubRepo) PathDetails(context.Context, int64) (map[string]any, error) {
	return map[string]any{}, nil
}

type serviceFixture struct {
	service *Service
	tables  *TableExecutor
	store   *checkpoint.FileStore
	events  *recorder
}

type recorder struct {
	events []progress.Event
}

func (r *recorder) OnEvent(e progress.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) kinds() []progress.Kind {
	out := make([]progress.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newServiceFixture(t *testing.T, patterns []*composite.Pattern) *serviceFixture {
	t.Helper()

	direct := &api.Path{
		ID: 1, Name: "gene_to_uniprot_direct", Priority: 10,
		Source: "GENE_SYMBOL", Target: "UNIPROT_ID", Active: true,
		Steps: []api.Step{{Order: 1, Resource: geneToUniprot}},
	}
	repo := &stubRepo{declared: map[string][]*api.Path{
		"GENE_SYMBOL|UNIPROT_ID": {direct},
	}}

	tables := NewTableExecutor()
	registry := NewExecutorRegistry()
	registry.Register("table", tables)

	store := checkpoint.NewFileStore(memfs.New())
	rec := &recorder{}
	coord := runner.NewCoordinator(store, nil, runner.Config{
		BatchSize:   2,
		RetryDelay:  time.Millisecond,
		Checkpoints: true,
	}, nil)
	coord.Broadcaster().AddListener(rec)

	finder := paths.NewFinder(repo, 16, time.Minute, nil)
	service := NewService(finder, composite.NewResolver(patterns), NewPathWalker(registry, nil), coord, nil)
	return &serviceFixture{service: service, tables: tables, store: store, events: rec}
}

func TestMapBatch_EndToEnd(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.tables.Load("unichem", map[string][]string{"TP53": {"P04637"}})

	results, err := f.service.MapBatch(context.Background(), Request{
		Source:      "GENE_SYMBOL",
		Target:      "UNIPROT_ID",
		Identifiers: []string{"TP53", "BRCA1"},
		ExecutionID: "genes_run_1",
	})
	require.NoError(t, err)

	require.Contains(t, results, "TP53")
	assert.Equal(t, []string{"P04637"}, results["TP53"].Values)
	assert.Equal(t, "gene_to_uniprot_direct", results["TP53"].Provenance)
	assert.NotContains(t, results, "BRCA1")

	assert.Equal(t, []progress.Kind{
		progress.KindStarted,
		progress.KindBatchCompleted,
		progress.KindCompleted,
	}, f.events.kinds())
	assert.False(t, f.store.Exists("genes_run_1"))
}

func TestMapBatch_CompositeAggregation(t *testing.T) {
	pattern, err := composite.NewPattern("GENE_SYMBOL", 1, `[,_]`, []string{",", "_"}, "", true, "all_matches")
	require.NoError(t, err)

	f := newServiceFixture(t, []*composite.Pattern{pattern})
	f.tables.Load("unichem", map[string][]string{
		"TP53": {"P04637"},
		"EGFR": {"P00533"},
	})

	results, err := f.service.MapBatch(context.Background(), Request{
		Source:      "GENE_SYMBOL",
		Target:      "UNIPROT_ID",
		Identifiers: []string{"TP53_EGFR"},
	})
	require.NoError(t, err)

	require.Contains(t, results, "TP53_EGFR")
	assert.Equal(t, []string{"P04637", "P00533"}, results["TP53_EGFR"].Values)
}

func TestMapBatch_NoPathIsNotAnError(t *testing.T) {
	f := newServiceFixture(t, nil)

	results, err := f.service.MapBatch(context.Background(), Request{
		Source:      "KEGG",
		Target:      "UNIPROT_ID",
		Identifiers: []string{"C00031"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMapBatch_Validation(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.service.MapBatch(context.Background(), Request{Target: "UNIPROT_ID"})
	require.Error(t, err)

	results, err := f.service.MapBatch(context.Background(), Request{
		Source: "GENE_SYMBOL", Target: "UNIPROT_ID",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}
