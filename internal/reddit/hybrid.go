package reddit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/resilience"
)

// Hybrid tries Reddit access strategies in priority order, returning the
// first success. Each strategy sits behind a circuit breaker so a dead
// upstream is skipped instead of re-probed on every call.
type Hybrid struct {
	strategies []strategy
}

type strategy struct {
	client  Client
	breaker *resilience.Breaker
}

// NewHybrid builds a chain from the given clients, in order.
func NewHybrid(clients ...Client) *Hybrid {
	h := &Hybrid{}
	for _, c := range clients {
		h.strategies = append(h.strategies, strategy{
			client:  c,
			breaker: resilience.NewBreaker(5, 60*time.Second),
		})
	}
	return h
}

// NewFromConfig assembles the standard chain. With OAuth credentials the
// authenticated API leads and the browser backs it up. Without credentials
// the browser leads, since Reddit blocks most anonymous plain-HTTP clients,
// with the anonymous API as the long shot. All strategies share one rate
// limiter so the combined request rate stays within the configured budget.
func NewFromConfig(rcfg config.RedditConfig, bcfg config.BrowserConfig) *Hybrid {
	limiter := rate.NewLimiter(rate.Limit(rcfg.RequestRate), rcfg.RequestBurst)

	var clients []Client
	if rcfg.HasCredentials() {
		clients = append(clients, NewAPIClient(rcfg, limiter, true))
		if bcfg.Enabled {
			clients = append(clients, NewBrowserClient(bcfg, limiter))
		}
	} else {
		if bcfg.Enabled {
			clients = append(clients, NewBrowserClient(bcfg, limiter))
		}
		clients = append(clients, NewAPIClient(rcfg, limiter, false))
	}
	return NewHybrid(clients...)
}

func (h *Hybrid) Name() string { return "hybrid" }

func (h *Hybrid) SearchPosts(ctx context.Context, query string, maxPages int) ([]Post, error) {
	return hybridDo(ctx, h, "search_posts", func(c Client) ([]Post, error) {
		return c.SearchPosts(ctx, query, maxPages)
	})
}

func (h *Hybrid) AboutSubreddit(ctx context.Context, name string) (*About, error) {
	return hybridDo(ctx, h, "about_subreddit", func(c Client) (*About, error) {
		return c.AboutSubreddit(ctx, name)
	})
}

func (h *Hybrid) TopPosts(ctx context.Context, subreddit string, limit int) ([]Post, error) {
	return hybridDo(ctx, h, "top_posts", func(c Client) ([]Post, error) {
		return c.TopPosts(ctx, subreddit, limit)
	})
}

func (h *Hybrid) Comments(ctx context.Context, subreddit, postID string, limit int) ([]Comment, error) {
	return hybridDo(ctx, h, "comments", func(c Client) ([]Comment, error) {
		return c.Comments(ctx, subreddit, postID, limit)
	})
}

func hybridDo[T any](ctx context.Context, h *Hybrid, op string, call func(Client) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for _, s := range h.strategies {
		if !s.breaker.Allow() {
			zap.L().Debug("reddit: strategy circuit open, skipping",
				zap.String("strategy", s.client.Name()),
				zap.String("operation", op),
			)
			continue
		}

		val, err := call(s.client)
		s.breaker.Record(err)
		if err == nil {
			return val, nil
		}

		if ctx.Err() != nil {
			return zero, err
		}

		zap.L().Debug("reddit: strategy failed, trying next",
			zap.String("strategy", s.client.Name()),
			zap.String("operation", op),
			zap.Error(err),
		)
		lastErr = err
	}

	if lastErr != nil {
		return zero, eris.Wrap(lastErr, "reddit: all strategies failed")
	}
	return zero, eris.New("reddit: no strategy available")
}
