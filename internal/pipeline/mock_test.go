package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reddit-intel/internal/extract"
	"github.com/sells-group/reddit-intel/internal/model"
	"github.com/sells-group/reddit-intel/internal/reddit"
	"github.com/sells-group/reddit-intel/pkg/anthropic"
)

// mockReddit is a scripted reddit.Client.
type mockReddit struct {
	searchPosts map[string][]reddit.Post
	abouts      map[string]*reddit.About
	topPosts    map[string][]reddit.Post
	comments    map[string][]reddit.Comment

	topPostsErr map[string]error
	commentsErr map[string]error
}

func (m *mockReddit) SearchPosts(ctx context.Context, query string, maxPages int) ([]reddit.Post, error) {
	return m.searchPosts[query], nil
}

func (m *mockReddit) AboutSubreddit(ctx context.Context, name string) (*reddit.About, error) {
	if about, ok := m.abouts[name]; ok {
		return about, nil
	}
	return nil, eris.Errorf("no about for %s", name)
}

func (m *mockReddit) TopPosts(ctx context.Context, subreddit string, limit int) ([]reddit.Post, error) {
	if err := m.topPostsErr[subreddit]; err != nil {
		return nil, err
	}
	posts := m.topPosts[subreddit]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (m *mockReddit) Comments(ctx context.Context, subreddit, postID string, limit int) ([]reddit.Comment, error) {
	if err := m.commentsErr[postID]; err != nil {
		return nil, err
	}
	comments := m.comments[postID]
	if len(comments) > limit {
		comments = comments[:limit]
	}
	return comments, nil
}

func (m *mockReddit) Name() string { return "mock" }

// mockAI is a scripted anthropic.Client returning canned text responses.
type mockAI struct {
	mu        sync.Mutex
	requests  []anthropic.MessageRequest
	responses []string
	err       error
}

func (m *mockAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	text := ""
	if len(m.responses) > 0 {
		text = m.responses[0]
		m.responses = m.responses[1:]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

// mockExtractor maps each batch to a scripted extraction keyed by the first
// source ID in the batch.
type mockExtractor struct {
	mu         sync.Mutex
	batches    [][]model.Source
	byFirstID  map[string]*extract.Extraction
	failFirsts map[string]bool
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, company model.AnalysisContext, sources []model.Source) (*extract.Extraction, error) {
	m.mu.Lock()
	m.batches = append(m.batches, sources)
	m.mu.Unlock()
	if len(sources) == 0 {
		return &extract.Extraction{}, nil
	}
	first := sources[0].ID
	if m.failFirsts[first] {
		return nil, eris.Errorf("extraction failed for batch at %s", first)
	}
	if ex, ok := m.byFirstID[first]; ok {
		return ex, nil
	}
	return &extract.Extraction{}, nil
}
