package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"

	"github.com/arpanauts/biomapper/internal/checkpoint"
	"github.com/arpanauts/biomapper/internal/composite"
	"github.com/arpanauts/biomapper/internal/mapping"
	"github.com/arpanauts/biomapper/internal/metadata"
	"github.com/arpanauts/biomapper/internal/paths"
	"github.com/arpanauts/biomapper/internal/progress"
	"github.com/arpanauts/biomapper/internal/runner"
)

// app is the wired service stack for one CLI invocation.
type app struct {
	repo     *metadata.Repository
	finder   *paths.Finder
	resolver *composite.Resolver
	tables   *mapping.TableExecutor
	service  *mapping.Service
}

// newApp opens the metadata database and wires finder, resolver, walker and
// coordinator. The returned cleanup must run when the command is done.
func newApp(ctx context.Context) (*app, func(), error) {
	repo, err := metadata.Open(cfg.DBPath, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = repo.Close() }

	patterns, err := repo.LoadPatterns(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.PatternsFile != "" {
		filePatterns, err := composite.LoadHCL(cfg.PatternsFile)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		patterns = append(patterns, filePatterns...)
	}

	var store checkpoint.Store = checkpoint.Disabled{}
	if cfg.Checkpoints {
		if err := os.MkdirAll(cfg.CheckpointDir, 0o755); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("create checkpoint dir %s: %w", cfg.CheckpointDir, err)
		}
		store = checkpoint.NewFileStore(osfs.New(cfg.CheckpointDir))
	}

	coord := runner.NewCoordinator(store, progress.NewBroadcaster(log), runner.Config{
		BatchSize:   cfg.BatchSize,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		Checkpoints: cfg.Checkpoints,
	}, log)

	bus := coord.Broadcaster()
	bus.AddListener(progress.NewLogListener(log))
	if cfg.MetricsAddr != "" {
		bus.AddListener(progress.NewMetricsListener(prometheus.DefaultRegisterer))
		go serveMetrics(cfg.MetricsAddr)
	}
	if cfg.Slack.Enabled && cfg.Slack.Token != "" {
		bus.AddListener(progress.NewSlackListener(slack.New(cfg.Slack.Token), cfg.Slack.Channel))
	}

	tables := mapping.NewTableExecutor()
	registry := mapping.NewExecutorRegistry()
	registry.Register("table", tables)

	finder := paths.NewFinder(repo, cfg.CacheSize, cfg.CacheTTL, log)
	resolver := composite.NewResolver(patterns)
	service := mapping.NewService(finder, resolver, mapping.NewPathWalker(registry, log), coord, log)

	return &app{
		repo:     repo,
		finder:   finder,
		resolver: resolver,
		tables:   tables,
		service:  service,
	}, cleanup, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics listener stopped", "addr", addr, "error", err)
	}
}
