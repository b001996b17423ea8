package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/resilience"
)

const (
	defaultAnonBase  = "https://www.reddit.com"
	oldRedditBase    = "https://old.reddit.com"
	defaultOAuthBase = "https://oauth.reddit.com"
	defaultTokenURL  = "https://www.reddit.com/api/v1/access_token"

	searchPageLimit = 100
	maxRateSleep    = 30 * time.Second
)

// APIClient reads Reddit through its JSON API. With OAuth credentials it
// uses the password grant against oauth.reddit.com; without them it falls
// back to the anonymous .json endpoints on www.reddit.com.
type APIClient struct {
	httpClient *http.Client
	cfg        config.RedditConfig
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	authed     bool

	anonBase  string
	oauthBase string
	tokenURL  string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewAPIClient creates an API strategy. authed selects OAuth mode; it
// requires a full credential set in cfg.
func NewAPIClient(cfg config.RedditConfig, limiter *rate.Limiter, authed bool) *APIClient {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &APIClient{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		limiter:    limiter,
		retry:      resilience.DefaultRetryConfig(),
		authed:     authed,
		anonBase:   defaultAnonBase,
		oauthBase:  defaultOAuthBase,
		tokenURL:   defaultTokenURL,
	}
	if cfg.BaseURL != "" {
		c.anonBase = cfg.BaseURL
	}
	if cfg.OAuthBaseURL != "" {
		c.oauthBase = cfg.OAuthBaseURL
	}
	if cfg.TokenURL != "" {
		c.tokenURL = cfg.TokenURL
	}
	c.retry.OnRetry = resilience.RetryLogger("reddit", "api")
	return c
}

func (c *APIClient) Name() string {
	if c.authed {
		return "api-oauth"
	}
	return "api-anon"
}

func (c *APIClient) SearchPosts(ctx context.Context, query string, maxPages int) ([]Post, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	var posts []Post
	after := ""
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("q", query)
		params.Set("limit", strconv.Itoa(searchPageLimit))
		params.Set("sort", "relevance")
		params.Set("t", "month")
		params.Set("type", "link")
		if after != "" {
			params.Set("after", after)
		}

		body, err := c.get(ctx, "/search", params)
		if err != nil {
			return nil, eris.Wrap(err, "reddit: search posts")
		}

		pagePosts, next, err := parseListing(body)
		if err != nil {
			return nil, err
		}
		posts = append(posts, pagePosts...)

		if next == "" {
			break
		}
		after = next
	}
	return posts, nil
}

func (c *APIClient) AboutSubreddit(ctx context.Context, name string) (*About, error) {
	body, err := c.get(ctx, "/r/"+name+"/about", nil)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: about subreddit")
	}
	return parseAbout(body)
}

func (c *APIClient) TopPosts(ctx context.Context, subreddit string, limit int) ([]Post, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("t", "month")

	body, err := c.get(ctx, "/r/"+subreddit+"/top", params)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: top posts")
	}
	posts, _, err := parseListing(body)
	if err != nil {
		return nil, err
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (c *APIClient) Comments(ctx context.Context, subreddit, postID string, limit int) ([]Comment, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", "top")

	body, err := c.get(ctx, "/r/"+subreddit+"/comments/"+postID, params)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: comments")
	}
	comments, err := parseCommentsResponse(body, postID)
	if err != nil {
		return nil, err
	}
	if len(comments) > limit {
		comments = comments[:limit]
	}
	return comments, nil
}

// get performs one rate-limited, retried GET against the active base URL.
// In OAuth mode a 401 refreshes the token once before failing. Anonymous
// requests blocked with a 403 get one more try through old.reddit.com,
// which tolerates unauthenticated .json reads better.
func (c *APIClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	base := c.anonBase
	if c.authed {
		base = c.oauthBase
	}

	body, err := c.getOnce(ctx, base, path, params)
	switch {
	case c.authed && resilience.StatusOf(err) == http.StatusUnauthorized:
		zap.L().Debug("reddit: token rejected, refreshing",
			zap.String("path", path),
		)
		c.invalidateToken()
		body, err = c.getOnce(ctx, base, path, params)
	case !c.authed && base == defaultAnonBase && resilience.StatusOf(err) == http.StatusForbidden:
		zap.L().Debug("reddit: anonymous request blocked, retrying via old host",
			zap.String("path", path),
		)
		body, err = c.getOnce(ctx, oldRedditBase, path, params)
	}
	return body, err
}

func (c *APIClient) getOnce(ctx context.Context, base, path string, params url.Values) ([]byte, error) {
	reqURL, err := c.buildURL(base, path, params)
	if err != nil {
		return nil, err
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "reddit: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "reddit: create request")
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		if c.authed {
			token, err := c.accessToken(ctx)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "reddit: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		c.honorRateHeaders(ctx, resp)

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "reddit: read body")
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &resilience.HTTPError{
				StatusCode: resp.StatusCode,
				URL:        reqURL,
				Body:       truncate(string(data), 200),
			}
		}
		return data, nil
	})
}

func (c *APIClient) buildURL(base, path string, params url.Values) (string, error) {
	if !c.authed {
		path += ".json"
	}

	u, err := url.Parse(base + path)
	if err != nil {
		return "", eris.Wrap(err, "reddit: parse url")
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("raw_json", "1")
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// honorRateHeaders sleeps until the window resets when Reddit reports the
// quota exhausted.
func (c *APIClient) honorRateHeaders(ctx context.Context, resp *http.Response) {
	remaining := resp.Header.Get("X-Ratelimit-Remaining")
	reset := resp.Header.Get("X-Ratelimit-Reset")
	if remaining == "" || reset == "" {
		return
	}

	rem, err := strconv.ParseFloat(remaining, 64)
	if err != nil || rem > 0 {
		return
	}
	resetSecs, err := strconv.ParseFloat(reset, 64)
	if err != nil || resetSecs <= 0 {
		return
	}

	sleep := time.Duration(resetSecs * float64(time.Second))
	if sleep > maxRateSleep {
		sleep = maxRateSleep
	}
	zap.L().Warn("reddit: rate quota exhausted, waiting for reset",
		zap.Duration("sleep", sleep),
	)
	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *APIClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// accessToken returns a cached OAuth token, fetching a new one via the
// password grant when missing or expired.
func (c *APIClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "reddit: create token request")
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "reddit: token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "reddit: read token body")
	}
	if resp.StatusCode != http.StatusOK {
		return "", &resilience.HTTPError{
			StatusCode: resp.StatusCode,
			URL:        c.tokenURL,
			Body:       truncate(string(data), 200),
		}
	}

	var tok struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
		Error       string  `json:"error"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", eris.Wrap(err, "reddit: decode token")
	}
	if tok.Error != "" || tok.AccessToken == "" {
		return "", eris.New(fmt.Sprintf("reddit: token grant failed: %s", tok.Error))
	}

	// Refresh a minute early so in-flight requests never carry a stale token.
	expiry := time.Duration(tok.ExpiresIn) * time.Second
	if expiry > 2*time.Minute {
		expiry -= time.Minute
	}
	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(expiry)

	zap.L().Debug("reddit: obtained access token",
		zap.Duration("ttl", expiry),
	)
	return c.token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
