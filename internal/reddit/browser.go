package reddit

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/reddit-intel/internal/config"
)

const defaultBrowserBase = "https://old.reddit.com"

// BrowserClient reads Reddit through a headless browser. It loads the same
// .json endpoints as the anonymous API but from a real browser session,
// which gets past the blocks Reddit applies to plain HTTP clients.
type BrowserClient struct {
	cfg     config.BrowserConfig
	limiter *rate.Limiter
	base    string

	// runJSON is swapped out in tests to avoid launching a browser.
	runJSON func(ctx context.Context, pageURL string) (string, error)
}

// NewBrowserClient creates the browser strategy.
func NewBrowserClient(cfg config.BrowserConfig, limiter *rate.Limiter) *BrowserClient {
	b := &BrowserClient{
		cfg:     cfg,
		limiter: limiter,
		base:    defaultBrowserBase,
	}
	if cfg.BaseURL != "" {
		b.base = cfg.BaseURL
	}
	b.runJSON = b.chromedpJSON
	return b
}

func (b *BrowserClient) Name() string { return "browser" }

func (b *BrowserClient) SearchPosts(ctx context.Context, query string, maxPages int) ([]Post, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	var posts []Post
	after := ""
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("q", query)
		params.Set("limit", strconv.Itoa(searchPageLimit))
		params.Set("t", "month")
		if after != "" {
			params.Set("after", after)
		}

		body, err := b.fetch(ctx, "/search.json", params)
		if err != nil {
			return nil, eris.Wrap(err, "reddit: browser search")
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

func (b *BrowserClient) AboutSubreddit(ctx context.Context, name string) (*About, error) {
	body, err := b.fetch(ctx, "/r/"+name+"/about.json", nil)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: browser about")
	}
	return parseAbout(body)
}

func (b *BrowserClient) TopPosts(ctx context.Context, subreddit string, limit int) ([]Post, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("t", "month")

	body, err := b.fetch(ctx, "/r/"+subreddit+"/top.json", params)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: browser top posts")
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

func (b *BrowserClient) Comments(ctx context.Context, subreddit, postID string, limit int) ([]Comment, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", "top")

	body, err := b.fetch(ctx, "/r/"+subreddit+"/comments/"+postID+".json", params)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: browser comments")
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

func (b *BrowserClient) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "reddit: rate limiter wait")
	}

	u, err := url.Parse(b.base + path)
	if err != nil {
		return nil, eris.Wrap(err, "reddit: parse url")
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("raw_json", "1")
	u.RawQuery = params.Encode()

	text, err := b.runJSON(ctx, u.String())
	if err != nil {
		return nil, err
	}

	// A block page renders HTML; the JSON endpoints start with { or [.
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, eris.New("reddit: browser returned non-JSON page")
	}
	return []byte(trimmed), nil
}

// chromedpJSON navigates to the URL in a headless Chrome instance and
// returns the rendered body text.
func (b *BrowserClient) chromedpJSON(ctx context.Context, pageURL string) (string, error) {
	timeout := time.Duration(b.cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	actx, acancel := chromedp.NewExecAllocator(tctx, opts...)
	defer acancel()

	bctx, bcancel := chromedp.NewContext(actx)
	defer bcancel()

	zap.L().Debug("reddit: browser fetch",
		zap.String("url", pageURL),
	)

	var text string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.Text("body", &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", eris.Wrap(err, "reddit: browser navigate")
	}
	return text, nil
}
