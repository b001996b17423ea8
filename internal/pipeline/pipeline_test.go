package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/extract"
	"github.com/sells-group/reddit-intel/internal/model"
	"github.com/sells-group/reddit-intel/internal/reddit"
	"github.com/sells-group/reddit-intel/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Key: "test-key", Model: "claude-haiku-4-5-20251001", MaxTokens: 1024},
		Discovery: config.DiscoveryConfig{
			MaxPages:         1,
			MaxSearchTerms:   3,
			MaxCandidates:    30,
			KeepTop:          20,
			FetchTop:         1,
			AboutConcurrency: 2,
		},
		Fetch:   config.FetchConfig{MaxPostsPerSubreddit: 2, MaxCommentsPerPost: 2, Concurrency: 2},
		Extract: config.ExtractConfig{BatchSize: 2, Concurrency: 2, MaxSources: 50, ConfidenceThreshold: 0.35},
		Resolve: config.ResolveConfig{SimilarityFloor: 0.70, MergeThreshold: 0.90},
	}
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

const acmeAnswer = `{"canonical_name":"Acme","aliases":["Acme","AcmeHQ"]}`

// testReddit scripts two discoverable subreddits, with r/sales clearly ahead,
// and top posts plus comments for the fetch phase.
func testReddit() *mockReddit {
	searchHits := []reddit.Post{
		{ID: "d1", Subreddit: "sales", Title: "Acme rollout experience", Score: 40, NumComments: 10, CreatedUTC: 100},
		{ID: "d2", Subreddit: "sales", Title: "AcmeHQ pricing thread", Score: 25, NumComments: 5, CreatedUTC: 101},
		{ID: "d3", Subreddit: "crm", Title: "tooling megathread", Score: 3, NumComments: 1, CreatedUTC: 102},
	}
	return &mockReddit{
		searchPosts: map[string][]reddit.Post{
			"Acme":   searchHits,
			"AcmeHQ": searchHits, // same hits; dedup by post ID
		},
		abouts: map[string]*reddit.About{
			"sales": {Name: "sales", Subscribers: 50000, ActiveUserCount: 300, PublicDescription: "sales talk"},
			"crm":   {Name: "crm", Subscribers: 8000, ActiveUserCount: 40, PublicDescription: "crm tools"},
		},
		topPosts: map[string][]reddit.Post{
			"sales": {
				{ID: "p1", Subreddit: "sales", Author: "u1", Title: "Acme vs Globex", SelfText: "we compared both", Score: 30, NumComments: 12, CreatedUTC: 200, Permalink: "/r/sales/p1"},
				{ID: "p2", Subreddit: "sales", Author: "u2", Title: "renewal season", Score: 10, NumComments: 2, CreatedUTC: 205, Permalink: "/r/sales/p2"},
			},
		},
		comments: map[string][]reddit.Comment{
			"p1": {
				{ID: "c1", PostID: "p1", Subreddit: "sales", Author: "u3", Body: "acme support is great", Score: 7, CreatedUTC: 202, Permalink: "/r/sales/p1/c1"},
			},
		},
	}
}

func testExtractor() *mockExtractor {
	return &mockExtractor{
		byFirstID: map[string]*extract.Extraction{
			"t3_p1": {
				Entities: []extract.EntitySuggestion{
					{SourceID: "t3_p1", Name: "Acme", Type: model.EntityTypeCompany, Aliases: []string{"Acme"}, Confidence: 0.9},
					{SourceID: "t3_p1", Name: "Globex", Type: model.EntityTypeCompany, Aliases: []string{"Globex"}, Confidence: 0.8},
				},
				Relationships: []extract.RelationshipSuggestion{
					{SourceID: "t3_p1", Type: "competitor", Subject: "Acme", Object: "Globex", Confidence: 0.7, Evidence: "we compared both"},
					{SourceID: "t3_p1", Type: "competitor", Subject: "Acme", Object: "Umbrella", Confidence: 0.9, Evidence: "unseen endpoint"},
				},
			},
			"t3_p2": {
				Entities: []extract.EntitySuggestion{
					// Merges into the Acme entity via exact normalized key.
					{SourceID: "t3_p2", Name: "acme", Type: model.EntityTypeCompany, Confidence: 0.6},
				},
			},
		},
	}
}

func runJob(t *testing.T, p *Pipeline, domain string, competitors []string) (*model.AnalysisResult, []model.JobProgress, error) {
	t.Helper()
	var phases []model.JobProgress
	result, err := p.Run(context.Background(),
		model.Job{ID: "j1", Domain: domain, Competitors: competitors},
		func(pr model.JobProgress) { phases = append(phases, pr) },
	)
	return result, phases, err
}

func TestRunFullPipeline(t *testing.T) {
	st := testStore(t)
	ai := &mockAI{responses: []string{acmeAnswer}}
	p := New(testConfig(), st, testReddit(), ai, testExtractor())

	result, phases, err := runJob(t, p, "acme.com", []string{"globex.com"})
	require.NoError(t, err)

	assert.Equal(t, model.ProgressOrder, phases)

	assert.Equal(t, "Acme", result.CompanyName)
	assert.Equal(t, []string{"Acme", "AcmeHQ"}, result.CompanyAliases)
	assert.Equal(t, []string{"Globex"}, result.Competitors)
	assert.Equal(t, 2, result.SubredditCount)
	assert.Equal(t, 3, result.SourceCount) // p1, c1, p2 from the top subreddit only
	assert.Equal(t, 2, result.EntityCount)
	assert.Equal(t, 1, result.RelationshipCount)

	ctx := context.Background()

	ac, err := st.GetContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Acme", ac.CompanyName)
	assert.Equal(t, []string{"Globex"}, ac.Competitors)

	subs, err := st.ListSubreddits(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "sales", subs[0].Name) // rank order

	sources, err := st.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, "t3_p1", sources[0].ID)
	assert.Equal(t, "Acme vs Globex\n\nwe compared both", sources[0].Text)
	assert.Equal(t, int64(42), sources[0].Engagement)
	assert.Equal(t, "t1_c1", sources[1].ID)
	assert.Equal(t, "t3_p1", sources[1].ParentSourceID)

	entities, err := st.ListEntities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Acme", entities[0].CanonicalName)
	assert.Equal(t, "Globex", entities[1].CanonicalName)

	mentions, err := st.ListMentions(ctx)
	require.NoError(t, err)
	require.Len(t, mentions, 3)
	// Exact-match resolution keeps the LLM confidence intact.
	assert.InDelta(t, 0.9, mentions[0].Confidence, 0.001)
	assert.Equal(t, "Acme", mentions[0].SurfaceForm)
	assert.Contains(t, mentions[0].Snippet, "Acme vs Globex")

	rels, err := st.ListRelationships(ctx)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "competitor", rels[0].Type)
	assert.Equal(t, entities[0].ID, rels[0].SubjectEntityID)
	assert.Equal(t, entities[1].ID, rels[0].ObjectEntityID)
}

func TestRunPersistsLateAliasMerges(t *testing.T) {
	// The second batch resolves to the already-written Acme entity and
	// brings a new alias; the stored row must pick it up.
	ex := testExtractor()
	ex.byFirstID["t3_p2"].Entities[0].Aliases = []string{"Acme Systems"}

	st := testStore(t)
	ai := &mockAI{responses: []string{acmeAnswer}}
	p := New(testConfig(), st, testReddit(), ai, ex)

	_, _, err := runJob(t, p, "acme.com", nil)
	require.NoError(t, err)

	entities, err := st.ListEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Acme", entities[0].CanonicalName)
	assert.Contains(t, entities[0].Aliases, "Acme Systems")
}

func TestRunClearsPreviousDataset(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertSubreddit(ctx, model.Subreddit{Name: "stale"}))
	require.NoError(t, st.AddSource(ctx, model.Source{ID: "old", Kind: model.SourceKindPost, Subreddit: "stale", Text: "old run"}))

	ai := &mockAI{responses: []string{acmeAnswer}}
	p := New(testConfig(), st, testReddit(), ai, testExtractor())
	_, _, err := runJob(t, p, "acme.com", nil)
	require.NoError(t, err)

	subs, err := st.ListSubreddits(ctx)
	require.NoError(t, err)
	for _, sub := range subs {
		assert.NotEqual(t, "stale", sub.Name)
	}
}

func TestRunFailsWithoutAnthropicKey(t *testing.T) {
	cfg := testConfig()
	cfg.Anthropic.Key = ""
	p := New(cfg, testStore(t), testReddit(), &mockAI{}, testExtractor())

	_, phases, err := runJob(t, p, "acme.com", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic api key")
	assert.Equal(t, []model.JobProgress{model.ProgressResolvingCompany}, phases)
}

func TestRunFailsWhenNoSubredditsFound(t *testing.T) {
	rc := testReddit()
	rc.searchPosts = map[string][]reddit.Post{}

	ai := &mockAI{responses: []string{acmeAnswer}}
	p := New(testConfig(), testStore(t), rc, ai, testExtractor())

	_, phases, err := runJob(t, p, "acme.com", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no relevant subreddits")
	assert.Equal(t, model.ProgressDiscoveringSubreddits, phases[len(phases)-1])
}

func TestRunFailsWhenEveryFetchFails(t *testing.T) {
	rc := testReddit()
	rc.topPostsErr = map[string]error{"sales": eris.New("blocked")}

	ai := &mockAI{responses: []string{acmeAnswer}}
	p := New(testConfig(), testStore(t), rc, ai, testExtractor())

	_, phases, err := runJob(t, p, "acme.com", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subreddit fetch failed")
	assert.Equal(t, model.ProgressFetchingSources, phases[len(phases)-1])
}

func TestRunSurvivesPartialExtractionFailure(t *testing.T) {
	ex := testExtractor()
	ex.failFirsts = map[string]bool{"t3_p2": true}

	st := testStore(t)
	ai := &mockAI{responses: []string{acmeAnswer}}
	p := New(testConfig(), st, testReddit(), ai, ex)

	result, _, err := runJob(t, p, "acme.com", nil)
	require.NoError(t, err)
	// The surviving batch still produced both entities.
	assert.Equal(t, 2, result.EntityCount)
}

func TestRunFailsWhenEveryExtractionBatchFails(t *testing.T) {
	ex := testExtractor()
	ex.failFirsts = map[string]bool{"t3_p1": true, "t3_p2": true}

	ai := &mockAI{responses: []string{acmeAnswer}}
	p := New(testConfig(), testStore(t), testReddit(), ai, ex)

	_, phases, err := runJob(t, p, "acme.com", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every extraction batch failed")
	assert.Equal(t, model.ProgressLLMExtraction, phases[len(phases)-1])
}
