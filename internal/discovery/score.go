package discovery

import (
	"math"
	"sort"

	"github.com/sells-group/reddit-intel/internal/model"
)

// Composite score weights. They must sum to 1.
const (
	weightMentions       = 0.35
	weightEngagement     = 0.30
	weightSubscribers    = 0.20
	weightTopicRelevance = 0.15
)

// Score computes the composite relevance score for every subreddit in the
// batch and sorts the slice in place: score desc, then mention count desc,
// then name asc. Scores are a pure function of the batch; normalization
// ranges come from the batch itself.
func Score(subs []model.Subreddit) {
	if len(subs) == 0 {
		return
	}

	subscribers := make([]float64, len(subs))
	mentions := make([]float64, len(subs))
	engagement := make([]float64, len(subs))
	relevance := make([]float64, len(subs))
	for i, s := range subs {
		subscribers[i] = float64(s.Subscribers)
		mentions[i] = float64(s.MentionCount)
		engagement[i] = s.AvgEngagement
		relevance[i] = s.TopicRelevance
	}

	normSubs := logNorm(subscribers)
	normMentions := minMax(mentions)
	normEngagement := minMax(engagement)
	normRelevance := minMax(relevance)

	for i := range subs {
		subs[i].Score = weightMentions*normMentions[i] +
			weightEngagement*normEngagement[i] +
			weightSubscribers*normSubs[i] +
			weightTopicRelevance*normRelevance[i]
	}

	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Score != subs[j].Score {
			return subs[i].Score > subs[j].Score
		}
		if subs[i].MentionCount != subs[j].MentionCount {
			return subs[i].MentionCount > subs[j].MentionCount
		}
		return subs[i].Name < subs[j].Name
	})
}

// minMax scales values to [0,1] over the batch range. A degenerate range
// (all values equal) maps everything to 0 so a constant signal carries no
// weight instead of half of it.
func minMax(vals []float64) []float64 {
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	out := make([]float64, len(vals))
	if hi == lo {
		return out
	}
	for i, v := range vals {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// logNorm scales heavy-tailed counts to [0,1] as log(1+x)/log(1+max).
// All-zero input maps to all zeros.
func logNorm(vals []float64) []float64 {
	var hi float64
	for _, v := range vals {
		if v > hi {
			hi = v
		}
	}

	out := make([]float64, len(vals))
	if hi <= 0 {
		return out
	}
	denom := math.Log1p(hi)
	for i, v := range vals {
		if v < 0 {
			v = 0
		}
		out[i] = math.Log1p(v) / denom
	}
	return out
}
