// Package discovery finds the subreddits where a company is discussed and
// ranks them by a composite relevance score.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/model"
	"github.com/sells-group/reddit-intel/internal/reddit"
)

// Searcher is the slice of the Reddit client discovery needs.
type Searcher interface {
	SearchPosts(ctx context.Context, query string, maxPages int) ([]reddit.Post, error)
	AboutSubreddit(ctx context.Context, name string) (*reddit.About, error)
}

// Discoverer runs subreddit discovery for one company.
type Discoverer struct {
	client Searcher
	cfg    config.DiscoveryConfig
}

// New creates a Discoverer.
func New(client Searcher, cfg config.DiscoveryConfig) *Discoverer {
	return &Discoverer{client: client, cfg: cfg}
}

// candidate accumulates per-subreddit signals across search terms.
type candidate struct {
	mentionCount    int
	totalEngagement int64
	relevanceHits   int
	sampleText      strings.Builder
}

// Discover searches Reddit for the company's name and aliases, accumulates
// per-subreddit mention and engagement signals, enriches candidates with
// subreddit metadata, and returns them scored and sorted. Search terms that
// fail are skipped; discovery only fails when every term fails.
func (d *Discoverer) Discover(ctx context.Context, company model.AnalysisContext) ([]model.Subreddit, error) {
	terms := d.searchTerms(company)
	log := zap.L().With(
		zap.String("phase", "discovery"),
		zap.String("company", company.CompanyName),
	)
	log.Info("discovering subreddits", zap.Strings("terms", terms))

	candidates := make(map[string]*candidate)
	seenPosts := make(map[string]bool)
	failures := 0

	for _, term := range terms {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		posts, err := d.client.SearchPosts(ctx, term, d.cfg.MaxPages)
		if err != nil {
			log.Warn("search term failed",
				zap.String("term", term),
				zap.Error(err),
			)
			failures++
			continue
		}

		for _, p := range posts {
			if p.Subreddit == "" || seenPosts[p.ID] {
				continue
			}
			seenPosts[p.ID] = true

			key := strings.ToLower(p.Subreddit)
			c, ok := candidates[key]
			if !ok {
				if len(candidates) >= d.cfg.MaxCandidates {
					continue
				}
				c = &candidate{}
				candidates[key] = c
			}
			c.mentionCount++
			c.totalEngagement += p.Engagement()
			if c.sampleText.Len() < 4096 {
				c.sampleText.WriteString(p.Title)
				c.sampleText.WriteByte('\n')
			}
		}
	}

	if len(candidates) == 0 {
		if failures == len(terms) && failures > 0 {
			return nil, eris.New("discovery: all search terms failed")
		}
		log.Info("no subreddits discovered")
		return nil, nil
	}

	subs := d.enrich(ctx, candidates, terms)
	Score(subs)

	if len(subs) > d.cfg.KeepTop && d.cfg.KeepTop > 0 {
		subs = subs[:d.cfg.KeepTop]
	}

	log.Info("discovery complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(subs)),
	)
	return subs, nil
}

// searchTerms returns the canonical name plus aliases, deduped
// case-insensitively and capped at the configured maximum.
func (d *Discoverer) searchTerms(company model.AnalysisContext) []string {
	max := d.cfg.MaxSearchTerms
	if max <= 0 {
		max = 3
	}

	seen := make(map[string]bool)
	var terms []string
	for _, t := range append([]string{company.CompanyName}, company.CompanyAliases...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		terms = append(terms, t)
		if len(terms) >= max {
			break
		}
	}
	return terms
}

// enrich fetches about-metadata for each candidate with bounded concurrency
// and computes topic relevance from alias keyword hits in the sampled titles
// plus the subreddit's public description. Candidates whose metadata fetch
// fails keep zero subscriber counts rather than being dropped.
func (d *Discoverer) enrich(ctx context.Context, candidates map[string]*candidate, terms []string) []model.Subreddit {
	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	lowerTerms := make([]string, len(terms))
	for i, t := range terms {
		lowerTerms[i] = strings.ToLower(t)
	}

	concurrency := d.cfg.AboutConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	var mu sync.Mutex
	subs := make([]model.Subreddit, 0, len(names))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, name := range names {
		g.Go(func() error {
			c := candidates[name]
			sub := model.Subreddit{
				Name:          name,
				MentionCount:  c.mentionCount,
				AvgEngagement: float64(c.totalEngagement) / float64(c.mentionCount),
			}

			about, err := d.client.AboutSubreddit(gCtx, name)
			if err != nil {
				zap.L().Debug("about fetch failed",
					zap.String("subreddit", name),
					zap.Error(err),
				)
			} else {
				sub.Name = about.Name
				sub.Subscribers = about.Subscribers
				sub.ActiveUserCount = about.ActiveUserCount
				sub.PublicDescription = about.PublicDescription
			}

			sample := strings.ToLower(c.sampleText.String() + " " + sub.PublicDescription)
			hits := 0
			for _, t := range lowerTerms {
				hits += strings.Count(sample, t)
			}
			sub.TopicRelevance = float64(hits)

			mu.Lock()
			subs = append(subs, sub)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return subs
}
