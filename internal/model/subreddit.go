package model

// Subreddit is a discovered community with its raw discovery signals and the
// derived composite score. Score is recomputed for every discovery batch; it
// is a pure function of the batch and never carried between runs.
type Subreddit struct {
	Name              string  `json:"name" yaml:"name"`
	Subscribers       int64   `json:"subscribers" yaml:"subscribers"`
	ActiveUserCount   int64   `json:"active_user_count" yaml:"active_user_count"`
	MentionCount      int     `json:"mention_count" yaml:"mention_count"`
	AvgEngagement     float64 `json:"avg_engagement" yaml:"avg_engagement"`
	TopicRelevance    float64 `json:"topic_relevance" yaml:"topic_relevance"`
	Score             float64 `json:"score" yaml:"score"`
	PublicDescription string  `json:"public_description" yaml:"public_description,omitempty"`
}
