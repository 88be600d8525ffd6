package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/fetcher"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/pipeline"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/registry"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/store"
	anthropicpkg "github.com/WattMatt/engi-ops-nexus-sub014/pkg/anthropic"
)

// pipelineEnv holds the store, document source and pipeline used by the
// serve and extract commands.
type pipelineEnv struct {
	Store    store.Store
	Source   *fetcher.Source
	Pipeline *pipeline.Pipeline
}

// Close waits for background runs, then releases the store.
func (pe *pipelineEnv) Close() {
	if pe.Pipeline != nil {
		pe.Pipeline.Wait()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "boq.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline validates config for mode, opens and migrates the store,
// loads the keyword and filter tables and builds the Pipeline. Callers
// should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	keywords, err := registry.LoadKeywordRules(cfg.Extraction.KeywordFile)
	if err != nil {
		return nil, err
	}
	filter, err := registry.LoadFilter(cfg.Extraction.FilterFile)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var aiClient anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		aiClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Warn("BOQ_ANTHROPIC_KEY not set, using heuristic extraction only")
	}

	return &pipelineEnv{
		Store:    st,
		Source:   fetcher.NewSource(cfg.Fetcher.DocumentDir, nil),
		Pipeline: pipeline.New(cfg, st, aiClient, keywords, filter),
	}, nil
}
