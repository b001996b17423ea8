// Package reddit fetches posts, comments, and subreddit metadata through a
// chain of access strategies: authenticated API, anonymous JSON endpoints,
// and a headless-browser fallback.
package reddit

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Post is a normalized Reddit submission.
type Post struct {
	ID          string
	Subreddit   string
	Author      string
	Title       string
	SelfText    string
	URL         string
	Permalink   string
	Score       int64
	NumComments int64
	CreatedUTC  int64
}

// Engagement is the post's score plus its comment count.
func (p Post) Engagement() int64 {
	return p.Score + p.NumComments
}

// Comment is a normalized Reddit comment.
type Comment struct {
	ID         string
	PostID     string
	Subreddit  string
	Author     string
	Body       string
	Permalink  string
	Score      int64
	CreatedUTC int64
}

// About is subreddit metadata from the about endpoint.
type About struct {
	Name              string
	Title             string
	PublicDescription string
	Subscribers       int64
	ActiveUserCount   int64
}

// Client is one strategy for reading Reddit. All listings are returned in
// the order Reddit serves them; callers own deduplication.
type Client interface {
	// SearchPosts searches site-wide for posts matching the query, following
	// pagination up to maxPages pages.
	SearchPosts(ctx context.Context, query string, maxPages int) ([]Post, error)

	// AboutSubreddit fetches metadata for one subreddit.
	AboutSubreddit(ctx context.Context, name string) (*About, error)

	// TopPosts fetches up to limit top posts from a subreddit.
	TopPosts(ctx context.Context, subreddit string, limit int) ([]Post, error)

	// Comments fetches up to limit top-level-ordered comments for a post.
	Comments(ctx context.Context, subreddit, postID string, limit int) ([]Comment, error)

	// Name identifies the strategy in logs.
	Name() string
}

// --- wire format ---

// Listings arrive as {"kind":"Listing","data":{"after":...,"children":[...]}}
// with each child a typed thing: t1 comment, t3 post, t5 subreddit.

type listingEnvelope struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	After    string          `json:"after"`
	Children []thingEnvelope `json:"children"`
}

type thingEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type postData struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int64   `json:"score"`
	NumComments int64   `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

type commentData struct {
	ID         string  `json:"id"`
	Subreddit  string  `json:"subreddit"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	Permalink  string  `json:"permalink"`
	Score      int64   `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	LinkID     string  `json:"link_id"`
}

type aboutData struct {
	DisplayName       string `json:"display_name"`
	Title             string `json:"title"`
	PublicDescription string `json:"public_description"`
	Subscribers       int64  `json:"subscribers"`
	ActiveUserCount   int64  `json:"active_user_count"`
}

// parseListing decodes a listing body and returns the posts it contains plus
// the pagination token. Non-post children are skipped.
func parseListing(body []byte) ([]Post, string, error) {
	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", eris.Wrap(err, "reddit: decode listing")
	}

	posts := make([]Post, 0, len(env.Data.Children))
	for _, child := range env.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var pd postData
		if err := json.Unmarshal(child.Data, &pd); err != nil {
			continue
		}
		posts = append(posts, Post{
			ID:          pd.ID,
			Subreddit:   pd.Subreddit,
			Author:      pd.Author,
			Title:       pd.Title,
			SelfText:    pd.SelfText,
			URL:         pd.URL,
			Permalink:   pd.Permalink,
			Score:       pd.Score,
			NumComments: pd.NumComments,
			CreatedUTC:  int64(pd.CreatedUTC),
		})
	}
	return posts, env.Data.After, nil
}

// parseCommentsResponse decodes the two-listing response of the comments
// endpoint and returns the comments of the second listing, top level first.
// "more" stubs and deleted bodies are skipped.
func parseCommentsResponse(body []byte, postID string) ([]Comment, error) {
	var envs []listingEnvelope
	if err := json.Unmarshal(body, &envs); err != nil {
		return nil, eris.Wrap(err, "reddit: decode comments")
	}
	if len(envs) < 2 {
		return nil, eris.New("reddit: comments response missing listing")
	}

	var comments []Comment
	for _, child := range envs[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		var cd commentData
		if err := json.Unmarshal(child.Data, &cd); err != nil {
			continue
		}
		if cd.Body == "" || cd.Body == "[deleted]" || cd.Body == "[removed]" {
			continue
		}
		comments = append(comments, Comment{
			ID:         cd.ID,
			PostID:     postID,
			Subreddit:  cd.Subreddit,
			Author:     cd.Author,
			Body:       cd.Body,
			Permalink:  cd.Permalink,
			Score:      cd.Score,
			CreatedUTC: int64(cd.CreatedUTC),
		})
	}
	return comments, nil
}

// parseAbout decodes a t5 thing from the about endpoint.
func parseAbout(body []byte) (*About, error) {
	var env thingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "reddit: decode about")
	}
	var ad aboutData
	if err := json.Unmarshal(env.Data, &ad); err != nil {
		return nil, eris.Wrap(err, "reddit: decode about data")
	}
	if ad.DisplayName == "" {
		return nil, eris.New("reddit: about response missing display_name")
	}
	return &About{
		Name:              ad.DisplayName,
		Title:             ad.Title,
		PublicDescription: ad.PublicDescription,
		Subscribers:       ad.Subscribers,
		ActiveUserCount:   ad.ActiveUserCount,
	}, nil
}
