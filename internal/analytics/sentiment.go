package analytics

import (
	"strings"
	"unicode"

	"github.com/sells-group/reddit-intel/internal/model"
)

// Classifier labels a source text with a sentiment.
type Classifier interface {
	Classify(text string) model.Sentiment
}

var positiveWords = map[string]bool{
	"love": true, "great": true, "awesome": true, "excellent": true,
	"good": true, "amazing": true, "best": true, "fantastic": true,
	"helpful": true, "recommend": true, "reliable": true, "solid": true,
	"happy": true, "impressed": true, "intuitive": true, "smooth": true,
}

var negativeWords = map[string]bool{
	"hate": true, "terrible": true, "awful": true, "bad": true,
	"worst": true, "broken": true, "buggy": true, "slow": true,
	"expensive": true, "scam": true, "poor": true, "disappointed": true,
	"frustrating": true, "useless": true, "clunky": true, "unreliable": true,
}

// LexiconClassifier scores text by counting sentiment-bearing words:
// (pos − neg) / (pos + neg), positive at ≥ 0.1 and negative at ≤ −0.1.
// Text with no lexicon hits is neutral.
type LexiconClassifier struct{}

func (LexiconClassifier) Classify(text string) model.Sentiment {
	var pos, neg int
	for _, tok := range tokenize(text) {
		if positiveWords[tok] {
			pos++
		}
		if negativeWords[tok] {
			neg++
		}
	}

	if pos+neg == 0 {
		return model.SentimentNeutral
	}
	score := float64(pos-neg) / float64(pos+neg)
	switch {
	case score >= 0.1:
		return model.SentimentPositive
	case score <= -0.1:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
