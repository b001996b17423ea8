package discovery

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reddit-intel/internal/reddit"
)

// mockSearcher serves canned search results and about metadata.
type mockSearcher struct {
	mu         sync.Mutex
	searches   []string
	posts      map[string][]reddit.Post // query → posts
	abouts     map[string]*reddit.About // subreddit → about
	searchDown bool
}

func (m *mockSearcher) SearchPosts(_ context.Context, query string, _ int) ([]reddit.Post, error) {
	m.mu.Lock()
	m.searches = append(m.searches, query)
	m.mu.Unlock()

	if m.searchDown {
		return nil, eris.New("search down")
	}
	return m.posts[strings.ToLower(query)], nil
}

func (m *mockSearcher) AboutSubreddit(_ context.Context, name string) (*reddit.About, error) {
	about, ok := m.abouts[strings.ToLower(name)]
	if !ok {
		return nil, eris.New("about not found")
	}
	return about, nil
}
