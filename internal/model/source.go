package model

// SourceKind distinguishes posts from comments.
type SourceKind string

const (
	SourceKindPost    SourceKind = "post"
	SourceKindComment SourceKind = "comment"
)

// Source is a fetched post or comment. Immutable once fetched. Engagement is
// score plus comment count for posts and score for comments.
type Source struct {
	ID             string     `json:"id"`
	Kind           SourceKind `json:"kind"`
	Subreddit      string     `json:"subreddit"`
	Author         string     `json:"author,omitempty"`
	URL            string     `json:"url,omitempty"`
	Permalink      string     `json:"permalink,omitempty"`
	Text           string     `json:"text"`
	Engagement     int64      `json:"engagement"`
	CreatedUTC     int64      `json:"created_utc"`
	ParentSourceID string     `json:"parent_source_id,omitempty"`
}
