package reddit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/reddit-intel/internal/config"
)

func testLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func anonClient(t *testing.T, srv *httptest.Server) *APIClient {
	t.Helper()
	cfg := config.RedditConfig{
		UserAgent:   "test-agent",
		TimeoutSecs: 5,
		BaseURL:     srv.URL,
	}
	c := NewAPIClient(cfg, testLimiter(), false)
	c.retry.MaxAttempts = 1
	return c
}

func TestAnonSearchPosts(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "1", r.URL.Query().Get("raw_json"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"kind":"Listing","data":{"after":"","children":[
			{"kind":"t3","data":{"id":"p1","subreddit":"sales","title":"Acme"}}
		]}}`))
	}))
	defer srv.Close()

	posts, err := anonClient(t, srv).SearchPosts(context.Background(), "acme", 3)
	require.NoError(t, err)

	assert.Equal(t, "/search.json", gotPath)
	assert.Equal(t, "acme", gotQuery)
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].ID)
}

func TestAnonSearchFollowsPagination(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			assert.Empty(t, r.URL.Query().Get("after"))
			_, _ = w.Write([]byte(`{"kind":"Listing","data":{"after":"t3_p1","children":[
				{"kind":"t3","data":{"id":"p1"}}
			]}}`))
			return
		}
		assert.Equal(t, "t3_p1", r.URL.Query().Get("after"))
		_, _ = w.Write([]byte(`{"kind":"Listing","data":{"after":"","children":[
			{"kind":"t3","data":{"id":"p2"}}
		]}}`))
	}))
	defer srv.Close()

	posts, err := anonClient(t, srv).SearchPosts(context.Background(), "acme", 5)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[1].ID)
}

func TestAnonAboutAndTopPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/r/sales/about.json":
			_, _ = w.Write([]byte(`{"kind":"t5","data":{"display_name":"sales","subscribers":100}}`))
		case "/r/sales/top.json":
			assert.Equal(t, "month", r.URL.Query().Get("t"))
			_, _ = w.Write([]byte(`{"kind":"Listing","data":{"after":"","children":[
				{"kind":"t3","data":{"id":"p1"}},
				{"kind":"t3","data":{"id":"p2"}},
				{"kind":"t3","data":{"id":"p3"}}
			]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := anonClient(t, srv)

	about, err := c.AboutSubreddit(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, "sales", about.Name)

	posts, err := c.TopPosts(context.Background(), "sales", 2)
	require.NoError(t, err)
	assert.Len(t, posts, 2) // truncated to limit
}

func TestAnonErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := anonClient(t, srv).SearchPosts(context.Background(), "acme", 1)
	assert.Error(t, err)
}

func TestOAuthTokenFlow(t *testing.T) {
	var tokenCalls, searchCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "user", r.PostForm.Get("username"))

		id, secret, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "cid", id)
		assert.Equal(t, "csecret", secret)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&searchCalls, 1)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"kind":"Listing","data":{"after":"","children":[]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.RedditConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		Username:     "user",
		Password:     "pass",
		UserAgent:    "test-agent",
		TimeoutSecs:  5,
		OAuthBaseURL: srv.URL,
		TokenURL:     srv.URL + "/api/v1/access_token",
	}
	c := NewAPIClient(cfg, testLimiter(), true)
	c.retry.MaxAttempts = 1

	_, err := c.SearchPosts(context.Background(), "acme", 1)
	require.NoError(t, err)
	_, err = c.SearchPosts(context.Background(), "acme", 1)
	require.NoError(t, err)

	// Token fetched once, reused for the second call.
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&searchCalls))
}

func TestOAuthRefreshesOnUnauthorized(t *testing.T) {
	var tokenCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&tokenCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": map[int32]string{1: "stale", 2: "fresh"}[n],
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"kind":"Listing","data":{"after":"","children":[
			{"kind":"t3","data":{"id":"p1"}}
		]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.RedditConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		Username:     "user",
		Password:     "pass",
		UserAgent:    "test-agent",
		TimeoutSecs:  5,
		OAuthBaseURL: srv.URL,
		TokenURL:     srv.URL + "/api/v1/access_token",
	}
	c := NewAPIClient(cfg, testLimiter(), true)
	c.retry.MaxAttempts = 1

	posts, err := c.SearchPosts(context.Background(), "acme", 1)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
}

func TestClientNames(t *testing.T) {
	cfg := config.RedditConfig{}
	assert.Equal(t, "api-oauth", NewAPIClient(cfg, testLimiter(), true).Name())
	assert.Equal(t, "api-anon", NewAPIClient(cfg, testLimiter(), false).Name())
}
