// Package pipeline orchestrates one analysis job: company resolution,
// subreddit discovery, source fetch, LLM extraction, entity resolution, and
// persistence, in that fixed order.
package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/discovery"
	"github.com/sells-group/reddit-intel/internal/extract"
	"github.com/sells-group/reddit-intel/internal/model"
	"github.com/sells-group/reddit-intel/internal/reddit"
	"github.com/sells-group/reddit-intel/internal/resolve"
	"github.com/sells-group/reddit-intel/internal/store"
	"github.com/sells-group/reddit-intel/pkg/anthropic"
)

// Pipeline runs the full analysis for one job.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	reddit    reddit.Client
	ai        anthropic.Client
	extractor extract.Extractor
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, rc reddit.Client, ai anthropic.Client, ex extract.Extractor) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, reddit: rc, ai: ai, extractor: ex}
}

// Run executes the job. Each phase is reported before it starts; any error
// returned here fails the job at the phase last reported.
func (p *Pipeline) Run(ctx context.Context, j model.Job, report func(model.JobProgress)) (*model.AnalysisResult, error) {
	log := zap.L().With(zap.String("job_id", j.ID), zap.String("domain", j.Domain))
	log.Info("pipeline: starting analysis")

	// resolving_company
	report(model.ProgressResolvingCompany)
	if p.cfg.Anthropic.Key == "" {
		return nil, eris.New("pipeline: anthropic api key is required")
	}
	if err := p.store.ClearAll(ctx); err != nil {
		return nil, eris.Wrap(err, "pipeline: clear previous dataset")
	}

	company, err := p.resolveCompany(ctx, j.Domain)
	if err != nil {
		return nil, err
	}
	ac := model.AnalysisContext{
		CompanyName:    company.CanonicalName,
		CompanyAliases: company.Aliases,
		Competitors:    dropCompany(NormalizeCompetitors(j.Competitors), company.CanonicalName),
	}
	if err := p.store.SetContext(ctx, ac); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist analysis context")
	}

	// discovering_subreddits
	report(model.ProgressDiscoveringSubreddits)
	subs, err := discovery.New(p.reddit, p.cfg.Discovery).Discover(ctx, ac)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, eris.Errorf("pipeline: no relevant subreddits found for %s", company.CanonicalName)
	}
	for _, sub := range subs {
		if err := p.store.UpsertSubreddit(ctx, sub); err != nil {
			return nil, err
		}
	}
	log.Info("pipeline: subreddits ranked", zap.Int("kept", len(subs)))

	// fetching_sources
	report(model.ProgressFetchingSources)
	fetchTop := p.cfg.Discovery.FetchTop
	if fetchTop <= 0 || fetchTop > len(subs) {
		fetchTop = len(subs)
	}
	sources, err := p.fetchSources(ctx, subs[:fetchTop])
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if err := p.store.AddSource(ctx, src); err != nil {
			return nil, err
		}
	}
	log.Info("pipeline: sources fetched", zap.Int("sources", len(sources)))

	// llm_extraction
	report(model.ProgressLLMExtraction)
	extractions, err := p.extractAll(ctx, ac, sources)
	if err != nil {
		return nil, err
	}

	// persisting
	report(model.ProgressPersisting)
	entityCount, relationshipCount, err := p.persistGraph(ctx, sources, extractions)
	if err != nil {
		return nil, err
	}

	result := &model.AnalysisResult{
		CompanyName:       company.CanonicalName,
		CompanyAliases:    company.Aliases,
		Competitors:       ac.Competitors,
		SubredditCount:    len(subs),
		SourceCount:       len(sources),
		EntityCount:       entityCount,
		RelationshipCount: relationshipCount,
	}
	log.Info("pipeline: analysis complete",
		zap.Int("subreddits", result.SubredditCount),
		zap.Int("sources", result.SourceCount),
		zap.Int("entities", result.EntityCount),
		zap.Int("relationships", result.RelationshipCount),
	)
	return result, nil
}

// fetchSources pulls top posts and their comments from the selected
// subreddits with bounded concurrency. A subreddit that fails is skipped;
// the phase fails only when every subreddit does.
func (p *Pipeline) fetchSources(ctx context.Context, subs []model.Subreddit) ([]model.Source, error) {
	concurrency := p.cfg.Fetch.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	var sources []model.Source
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			fetched, err := p.fetchSubreddit(gctx, sub.Name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				zap.L().Warn("subreddit fetch failed",
					zap.String("phase", "fetching_sources"),
					zap.String("subreddit", sub.Name),
					zap.Error(err),
				)
				return nil
			}
			sources = append(sources, fetched...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch sources")
	}
	if failures == len(subs) {
		return nil, eris.New("pipeline: every subreddit fetch failed")
	}
	if len(sources) == 0 {
		return nil, eris.New("pipeline: no sources fetched")
	}
	return sources, nil
}

func (p *Pipeline) fetchSubreddit(ctx context.Context, name string) ([]model.Source, error) {
	posts, err := p.reddit.TopPosts(ctx, name, p.cfg.Fetch.MaxPostsPerSubreddit)
	if err != nil {
		return nil, err
	}

	var sources []model.Source
	for _, post := range posts {
		sources = append(sources, postSource(post))

		comments, err := p.reddit.Comments(ctx, name, post.ID, p.cfg.Fetch.MaxCommentsPerPost)
		if err != nil {
			// Comments are additive; keep the post.
			zap.L().Warn("comment fetch failed",
				zap.String("phase", "fetching_sources"),
				zap.String("subreddit", name),
				zap.String("post_id", post.ID),
				zap.Error(err),
			)
			continue
		}
		for _, c := range comments {
			sources = append(sources, commentSource(c))
		}
	}
	return sources, nil
}

func postSource(p reddit.Post) model.Source {
	text := p.Title
	if p.SelfText != "" {
		text += "\n\n" + p.SelfText
	}
	return model.Source{
		ID:         "t3_" + p.ID,
		Kind:       model.SourceKindPost,
		Subreddit:  p.Subreddit,
		Author:     p.Author,
		URL:        p.URL,
		Permalink:  p.Permalink,
		Text:       text,
		Engagement: p.Engagement(),
		CreatedUTC: p.CreatedUTC,
	}
}

func commentSource(c reddit.Comment) model.Source {
	return model.Source{
		ID:             "t1_" + c.ID,
		Kind:           model.SourceKindComment,
		Subreddit:      c.Subreddit,
		Author:         c.Author,
		Permalink:      c.Permalink,
		Text:           c.Body,
		Engagement:     c.Score,
		CreatedUTC:     c.CreatedUTC,
		ParentSourceID: "t3_" + c.PostID,
	}
}

// extractAll runs LLM extraction over the sources in batches with bounded
// concurrency. Batch order is preserved so entity resolution stays
// deterministic. A failed batch is dropped; the phase fails only when every
// batch does.
func (p *Pipeline) extractAll(ctx context.Context, ac model.AnalysisContext, sources []model.Source) ([]*extract.Extraction, error) {
	if limit := p.cfg.Extract.MaxSources; limit > 0 && len(sources) > limit {
		sources = sources[:limit]
	}
	batchSize := p.cfg.Extract.BatchSize
	if batchSize <= 0 {
		batchSize = len(sources)
	}
	concurrency := p.cfg.Extract.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var batches [][]model.Source
	for start := 0; start < len(sources); start += batchSize {
		end := start + batchSize
		if end > len(sources) {
			end = len(sources)
		}
		batches = append(batches, sources[start:end])
	}

	results := make([]*extract.Extraction, len(batches))
	var mu sync.Mutex
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			ex, err := p.extractor.ExtractBatch(gctx, ac, batch)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				zap.L().Warn("extraction batch failed",
					zap.String("phase", "llm_extraction"),
					zap.Int("batch", i),
					zap.Int("sources", len(batch)),
					zap.Error(err),
				)
				return nil
			}
			results[i] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: extraction")
	}
	if len(batches) > 0 && failures == len(batches) {
		return nil, eris.New("pipeline: every extraction batch failed")
	}

	out := results[:0]
	for _, ex := range results {
		if ex != nil {
			out = append(out, ex)
		}
	}
	return out, nil
}

// persistGraph resolves the extraction output into canonical entities and
// writes entities, mentions, and relationships. Resolution is sequential in
// batch order so the same input always produces the same entity pool.
func (p *Pipeline) persistGraph(ctx context.Context, sources []model.Source, extractions []*extract.Extraction) (int, int, error) {
	textByID := make(map[string]string, len(sources))
	for _, src := range sources {
		textByID[src.ID] = src.Text
	}

	resolver := resolve.NewResolver(p.cfg.Resolve)
	persistedAliases := make(map[string]int)
	var mentions []model.Mention
	for _, ex := range extractions {
		for _, sug := range ex.Entities {
			res := resolver.Resolve(sug.Name, sug.Type, sug.Aliases)

			// Entities are written as the pool grows, so a later batch
			// can still fold fresh aliases into an already-written row.
			switch {
			case res.Created:
				if err := p.store.CreateEntity(ctx, *res.Entity); err != nil {
					return 0, 0, err
				}
				persistedAliases[res.Entity.ID] = len(res.Entity.Aliases)
			case len(res.Entity.Aliases) > persistedAliases[res.Entity.ID]:
				if err := p.store.MergeEntityAliases(ctx, res.Entity.ID, res.Entity.Aliases); err != nil {
					return 0, 0, err
				}
				persistedAliases[res.Entity.ID] = len(res.Entity.Aliases)
			}

			text := textByID[sug.SourceID]
			surface := extract.SurfaceForm(text, append([]string{sug.Name}, sug.Aliases...))
			mentions = append(mentions, model.Mention{
				ID:          uuid.NewString(),
				EntityID:    res.Entity.ID,
				SourceID:    sug.SourceID,
				SurfaceForm: surface,
				Snippet:     extract.Snippet(text, surface),
				Confidence:  resolve.ComposeConfidence(sug.Confidence, res.Confidence),
			})
		}
	}

	var relationships []model.Relationship
	for _, ex := range extractions {
		for _, sug := range ex.Relationships {
			subject, ok := resolver.Lookup(sug.Subject)
			if !ok {
				continue
			}
			object, ok := resolver.Lookup(sug.Object)
			if !ok {
				continue
			}
			relationships = append(relationships, model.Relationship{
				ID:              uuid.NewString(),
				Type:            sug.Type,
				SubjectEntityID: subject.ID,
				ObjectEntityID:  object.ID,
				Confidence:      sug.Confidence,
				Evidence:        sug.Evidence,
				SourceID:        sug.SourceID,
			})
		}
	}

	for _, m := range mentions {
		if err := p.store.AddMention(ctx, m); err != nil {
			return 0, 0, err
		}
	}
	for _, r := range relationships {
		if err := p.store.AddRelationship(ctx, r); err != nil {
			return 0, 0, err
		}
	}

	entityCount, err := p.store.CountEntities(ctx)
	if err != nil {
		return 0, 0, err
	}
	relationshipCount, err := p.store.CountRelationships(ctx)
	if err != nil {
		return 0, 0, err
	}
	return entityCount, relationshipCount, nil
}

// dropCompany removes competitor entries that are really the company itself.
func dropCompany(competitors []string, companyName string) []string {
	var out []string
	for _, c := range competitors {
		if strings.EqualFold(c, companyName) {
			continue
		}
		out = append(out, c)
	}
	return out
}
