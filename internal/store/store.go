// Package store persists one analysis dataset: the ranked subreddits, the
// fetched sources, and the resolved entity graph built from them. Every
// analysis run starts from a clean dataset.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/model"
)

// ErrNotFound reports a lookup that matched no row.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the intelligence pipeline.
type Store interface {
	// Dataset lifecycle
	ClearAll(ctx context.Context) error
	SetContext(ctx context.Context, ac model.AnalysisContext) error
	GetContext(ctx context.Context) (*model.AnalysisContext, error)

	// Subreddits, in rank order (score desc, mentions desc, name asc)
	UpsertSubreddit(ctx context.Context, sub model.Subreddit) error
	ListSubreddits(ctx context.Context) ([]model.Subreddit, error)

	// Sources
	AddSource(ctx context.Context, src model.Source) error
	ListSources(ctx context.Context) ([]model.Source, error)

	// Entities
	CreateEntity(ctx context.Context, e model.Entity) error
	MergeEntityAliases(ctx context.Context, entityID string, aliases []string) error
	GetEntity(ctx context.Context, entityID string) (*model.Entity, error)
	ListEntities(ctx context.Context) ([]model.Entity, error)

	// Mentions
	AddMention(ctx context.Context, m model.Mention) error
	ListMentions(ctx context.Context) ([]model.Mention, error)
	ListMentionsByEntity(ctx context.Context, entityID string) ([]model.Mention, error)

	// Relationships
	AddRelationship(ctx context.Context, r model.Relationship) error
	ListRelationships(ctx context.Context) ([]model.Relationship, error)

	// Counts
	CountEntities(ctx context.Context) (int, error)
	CountRelationships(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store named by the config and runs migrations.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// mergeAliasSets unions existing and incoming aliases, preserving first-seen
// order and deduping case-insensitively.
func mergeAliasSets(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	var out []string
	for _, a := range append(append([]string{}, existing...), incoming...) {
		a = strings.TrimSpace(a)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	return out
}
