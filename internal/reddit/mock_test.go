package reddit

import (
	"context"
)

// mockClient is a scriptable Client strategy for chain tests.
type mockClient struct {
	name       string
	calls      int
	searchFn   func(query string, maxPages int) ([]Post, error)
	aboutFn    func(name string) (*About, error)
	topPostsFn func(subreddit string, limit int) ([]Post, error)
	commentsFn func(subreddit, postID string, limit int) ([]Comment, error)
}

func (m *mockClient) Name() string { return m.name }

func (m *mockClient) SearchPosts(_ context.Context, query string, maxPages int) ([]Post, error) {
	m.calls++
	return m.searchFn(query, maxPages)
}

func (m *mockClient) AboutSubreddit(_ context.Context, name string) (*About, error) {
	m.calls++
	return m.aboutFn(name)
}

func (m *mockClient) TopPosts(_ context.Context, subreddit string, limit int) ([]Post, error) {
	m.calls++
	return m.topPostsFn(subreddit, limit)
}

func (m *mockClient) Comments(_ context.Context, subreddit, postID string, limit int) ([]Comment, error) {
	m.calls++
	return m.commentsFn(subreddit, postID, limit)
}
