package main

import (
	"context"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/extract"
	"github.com/sells-group/reddit-intel/internal/job"
	"github.com/sells-group/reddit-intel/internal/pipeline"
	"github.com/sells-group/reddit-intel/internal/reddit"
	"github.com/sells-group/reddit-intel/internal/store"
	"github.com/sells-group/reddit-intel/pkg/anthropic"
)

// env bundles the wired dependencies for one process.
type env struct {
	cfg     *config.Config
	store   store.Store
	manager *job.Manager
}

// newEnv opens the store and wires the Reddit client chain, the Claude
// extractor, and the job manager around the pipeline.
func newEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	ai := anthropic.NewClient(cfg.Anthropic.Key)
	rc := reddit.NewFromConfig(cfg.Reddit, cfg.Browser)
	ex := extract.NewClaudeExtractor(ai, cfg.Extract, cfg.Anthropic)
	p := pipeline.New(cfg, st, rc, ai, ex)

	return &env{
		cfg:     cfg,
		store:   st,
		manager: job.NewManager(p.Run),
	}, nil
}

func (e *env) Close() {
	e.store.Close()
}
