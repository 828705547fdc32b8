package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/arpanauts/biomapper/api"
	"github.com/arpanauts/biomapper/internal/checkpoint"
	"github.com/arpanauts/biomapper/internal/composite"
	"github.com/arpanauts/biomapper/internal/paths"
	"github.com/arpanauts/biomapper/internal/runner"
)

// translationsKey is the checkpoint state field holding accumulated results.
const translationsKey = "translations"

// Translation pairs one component identifier with its mapping result, in a
// shape that survives a checkpoint's JSON round trip.
type Translation struct {
	ID     string      `json:"id"`
	Result *api.Result `json:"result"`
}

// Request describes one batch mapping run.
type Request struct {
	Source      string
	Target      string
	Identifiers []string

	Bidirectional  bool
	Preferred      paths.Direction
	SourceEndpoint string
	TargetEndpoint string

	// ExecutionID pins checkpoint correlation across reruns of the same
	// batch. Empty derives a fresh id per run, which also disables resume.
	ExecutionID string
}

// Service is the high-level mapping entry point. It wires the composite
// resolver, path finder, path walker, and execution coordinator into one
// operation: split composites, resolve the best path per component
// vocabulary, execute in checkpointed batches, aggregate back onto the
// original identifiers.
type Service struct {
	finder   *paths.Finder
	resolver *composite.Resolver
	walker   *PathWalker
	coord    *runner.Coordinator
	log      *slog.Logger
}

func NewService(finder *paths.Finder, resolver *composite.Resolver, walker *PathWalker, coord *runner.Coordinator, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{finder: finder, resolver: resolver, walker: walker, coord: coord, log: log}
}

// MapBatch translates the identifiers from the source to the target
// vocabulary. Identifiers that could not be translated are absent from the
// result map. Vocabulary pairs with no usable path are skipped with a
// warning rather than failing the whole batch.
func (s *Service) MapBatch(ctx context.Context, req Request) (map[string]*api.Result, error) {
	if req.Source == "" || req.Target == "" {
		return nil, fmt.Errorf("map batch: source and target vocabularies are required")
	}
	if len(req.Identifiers) == 0 {
		return map[string]*api.Result{}, nil
	}

	pre := s.resolver.PreprocessBatch(req.Identifiers, req.Source)

	// Components group by vocabulary; each group maps through its own path.
	componentsByVocab := make(map[string][]string)
	seen := make(map[string]struct{})
	for _, id := range req.Identifiers {
		for _, c := range pre[id] {
			key := c.Vocabulary + "|" + c.ID
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			componentsByVocab[c.Vocabulary] = append(componentsByVocab[c.Vocabulary], c.ID)
		}
	}
	vocabs := make([]string, 0, len(componentsByVocab))
	for vocab := range componentsByVocab {
		vocabs = append(vocabs, vocab)
	}
	sort.Strings(vocabs)

	componentResults := make(map[string]*api.Result)
	for _, vocab := range vocabs {
		best, err := s.finder.FindBestPath(ctx, paths.Query{
			Source:         vocab,
			Target:         req.Target,
			Bidirectional:  req.Bidirectional,
			Preferred:      req.Preferred,
			SourceEndpoint: req.SourceEndpoint,
			TargetEndpoint: req.TargetEndpoint,
		})
		if err != nil {
			return nil, err
		}
		if best == nil {
			s.log.Warn("no mapping path", "source", vocab, "target", req.Target)
			continue
		}

		name := fmt.Sprintf("map_%s_to_%s", strings.ToLower(vocab), strings.ToLower(req.Target))
		execID := req.ExecutionID
		switch {
		case execID == "":
			execID = fmt.Sprintf("%s_%d", name, time.Now().UnixMilli())
		case len(vocabs) > 1:
			// Each vocabulary group checkpoints independently.
			execID = fmt.Sprintf("%s_%s", execID, strings.ToLower(vocab))
		}

		translations, err := s.executePath(ctx, name, execID, best, componentsByVocab[vocab])
		if err != nil {
			return nil, err
		}
		for _, tr := range translations {
			componentResults[tr.ID] = tr.Result
		}
	}

	return s.resolver.Aggregate(req.Identifiers, componentResults, pre, req.Source), nil
}

// executePath runs the walker over one vocabulary group through the
// coordinator, in chunks with retry and checkpoint resume.
func (s *Service) executePath(ctx context.Context, name, execID string, path *paths.DirectionalPath, identifiers []string) ([]Translation, error) {
	result, err := s.coord.ExecuteRobustly(ctx, name, identifiers,
		func(ctx context.Context, ids []string, state checkpoint.State) (any, error) {
			return runner.ProcessInBatches(ctx, s.coord, ids,
				func(ctx context.Context, chunk []string) ([]Translation, error) {
					translated, err := s.walker.Execute(ctx, path, chunk)
					if err != nil {
						return nil, err
					}
					out := make([]Translation, 0, len(translated))
					for _, id := range chunk {
						if res, ok := translated[id]; ok {
							out = append(out, Translation{ID: id, Result: res})
						}
					}
					return out, nil
				},
				name, translationsKey, execID, state)
		},
		runner.WithExecutionID(execID))
	if err != nil {
		return nil, err
	}
	translations, ok := result.([]Translation)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T from execution %s", result, execID)
	}
	return translations, nil
}
