package model

// Sentiment labels a source text.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// SubredditShare holds per-target mention counts and normalized share of
// voice within one subreddit. Share is zero for all targets when the
// subreddit has no target mentions.
type SubredditShare struct {
	Subreddit string             `json:"subreddit" yaml:"subreddit"`
	Counts    map[string]int     `json:"counts" yaml:"counts"`
	Share     map[string]float64 `json:"share" yaml:"share"`
	Total     int                `json:"total" yaml:"total"`
}

// TargetSentiment aggregates sentiment-labelled sources per target.
type TargetSentiment struct {
	Target   string `json:"target" yaml:"target"`
	Positive int    `json:"positive" yaml:"positive"`
	Neutral  int    `json:"neutral" yaml:"neutral"`
	Negative int    `json:"negative" yaml:"negative"`
}

// CoMention counts how many sources mention an unordered pair of targets
// together. Pair is sorted lexicographically and reported once.
type CoMention struct {
	Pair  [2]string `json:"pair" yaml:"pair,flow"`
	Count int       `json:"count" yaml:"count"`
}

// Anomaly is a date whose mention count deviates from the target's own daily
// mean by more than the configured z-score threshold.
type Anomaly struct {
	Target string  `json:"target" yaml:"target"`
	Date   string  `json:"date" yaml:"date"`
	Count  int     `json:"count" yaml:"count"`
	ZScore float64 `json:"z_score" yaml:"z_score"`
}

// CompetitiveOverview is the derived competitive analytics view over the
// persisted dataset, restricted to the target company and its competitors.
type CompetitiveOverview struct {
	Targets        []string          `json:"targets" yaml:"targets"`
	SubredditShare []SubredditShare  `json:"subreddit_share" yaml:"subreddit_share"`
	Sentiment      []TargetSentiment `json:"sentiment" yaml:"sentiment"`
	CoMentions     []CoMention       `json:"co_mentions" yaml:"co_mentions"`
	Anomalies      []Anomaly         `json:"anomalies" yaml:"anomalies"`
}
