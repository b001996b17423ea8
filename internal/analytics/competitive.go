// Package analytics derives the competitive view over a persisted dataset:
// share of voice, sentiment, co-mentions, and mention-spike anomalies for
// the target company and its competitors.
package analytics

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/model"
)

// Analyzer computes competitive overviews.
type Analyzer struct {
	cfg        config.AnalyticsConfig
	classifier Classifier
}

// New creates an Analyzer. A nil classifier falls back to the lexicon scorer.
func New(cfg config.AnalyticsConfig, classifier Classifier) *Analyzer {
	if classifier == nil {
		classifier = LexiconClassifier{}
	}
	return &Analyzer{cfg: cfg, classifier: classifier}
}

// target is one tracked name with its compiled text patterns.
type target struct {
	name     string
	patterns []*regexp.Regexp
}

// Overview computes the full competitive view. Targets are the company and
// its competitors, deduped case-insensitively. A source counts toward a
// target when a resolved mention links them or when the target's name (or,
// for the company, any alias) appears in the text on a word boundary.
func (a *Analyzer) Overview(
	company model.AnalysisContext,
	sources []model.Source,
	entities []*model.Entity,
	mentions []model.Mention,
) *model.CompetitiveOverview {
	targets := buildTargets(company)
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.name
	}

	// entity ID → target name, via case-insensitive name/alias equality.
	entityTarget := make(map[string]string)
	for _, e := range entities {
		for _, t := range targets {
			if matchesEntity(e, t.name) {
				entityTarget[e.ID] = t.name
				break
			}
		}
	}

	// source ID → set of target names mentioned by resolved mentions.
	mentionTargets := make(map[string]map[string]bool)
	for _, m := range mentions {
		tname, ok := entityTarget[m.EntityID]
		if !ok {
			continue
		}
		if mentionTargets[m.SourceID] == nil {
			mentionTargets[m.SourceID] = make(map[string]bool)
		}
		mentionTargets[m.SourceID][tname] = true
	}

	shareBySub := make(map[string]*model.SubredditShare)
	sentiment := make(map[string]*model.TargetSentiment)
	for _, name := range names {
		sentiment[name] = &model.TargetSentiment{Target: name}
	}
	coMentions := make(map[[2]string]int)
	daily := make(map[string]map[string]int) // target → date → count

	for _, src := range sources {
		hit := make(map[string]bool)
		for name := range mentionTargets[src.ID] {
			hit[name] = true
		}
		for _, t := range targets {
			if hit[t.name] {
				continue
			}
			for _, p := range t.patterns {
				if p.MatchString(src.Text) {
					hit[t.name] = true
					break
				}
			}
		}
		if len(hit) == 0 {
			continue
		}

		present := make([]string, 0, len(hit))
		for name := range hit {
			present = append(present, name)
		}
		sort.Strings(present)

		share := shareBySub[src.Subreddit]
		if share == nil {
			share = &model.SubredditShare{
				Subreddit: src.Subreddit,
				Counts:    make(map[string]int),
				Share:     make(map[string]float64),
			}
			shareBySub[src.Subreddit] = share
		}

		label := a.classifier.Classify(src.Text)

		// Sources without a creation time still count toward share and
		// sentiment but cannot be placed in the daily series.
		date := ""
		if src.CreatedUTC > 0 {
			date = time.Unix(src.CreatedUTC, 0).UTC().Format("2006-01-02")
		}

		for _, name := range present {
			share.Counts[name]++
			share.Total++

			switch label {
			case model.SentimentPositive:
				sentiment[name].Positive++
			case model.SentimentNegative:
				sentiment[name].Negative++
			default:
				sentiment[name].Neutral++
			}

			if date != "" {
				if daily[name] == nil {
					daily[name] = make(map[string]int)
				}
				daily[name][date]++
			}
		}

		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				coMentions[[2]string{present[i], present[j]}]++
			}
		}
	}

	overview := &model.CompetitiveOverview{
		Targets:        names,
		SubredditShare: finalizeShares(shareBySub),
		Sentiment:      finalizeSentiment(names, sentiment),
		CoMentions:     finalizeCoMentions(coMentions),
		Anomalies:      a.findAnomalies(daily),
	}

	zap.L().Debug("competitive overview computed",
		zap.Int("targets", len(names)),
		zap.Int("subreddits", len(overview.SubredditShare)),
		zap.Int("co_mentions", len(overview.CoMentions)),
		zap.Int("anomalies", len(overview.Anomalies)),
	)
	return overview
}

// buildTargets dedupes the company and competitor names case-insensitively,
// company first, and compiles word-boundary patterns. Company aliases map to
// the company target.
func buildTargets(company model.AnalysisContext) []target {
	seen := make(map[string]bool)
	var targets []target

	add := func(name string, extraAliases []string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			return
		}
		seen[strings.ToLower(name)] = true

		t := target{name: name}
		for _, form := range append([]string{name}, extraAliases...) {
			form = strings.TrimSpace(form)
			if form == "" {
				continue
			}
			p, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(form) + `\b`)
			if err != nil {
				continue
			}
			t.patterns = append(t.patterns, p)
		}
		targets = append(targets, t)
	}

	add(company.CompanyName, company.CompanyAliases)
	for _, c := range company.Competitors {
		add(c, nil)
	}
	return targets
}

func matchesEntity(e *model.Entity, name string) bool {
	if strings.EqualFold(e.CanonicalName, name) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

func finalizeShares(bySub map[string]*model.SubredditShare) []model.SubredditShare {
	out := make([]model.SubredditShare, 0, len(bySub))
	for _, s := range bySub {
		if s.Total > 0 {
			for name, count := range s.Counts {
				s.Share[name] = float64(count) / float64(s.Total)
			}
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Subreddit < out[j].Subreddit
	})
	return out
}

func finalizeSentiment(names []string, sentiment map[string]*model.TargetSentiment) []model.TargetSentiment {
	out := make([]model.TargetSentiment, 0, len(names))
	for _, name := range names {
		out = append(out, *sentiment[name])
	}
	return out
}

func finalizeCoMentions(counts map[[2]string]int) []model.CoMention {
	out := make([]model.CoMention, 0, len(counts))
	for pair, count := range counts {
		out = append(out, model.CoMention{Pair: pair, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Pair[0] != out[j].Pair[0] {
			return out[i].Pair[0] < out[j].Pair[0]
		}
		return out[i].Pair[1] < out[j].Pair[1]
	})
	return out
}

// findAnomalies flags dates whose mention count deviates from the target's
// own daily mean. A target needs enough history for the statistics to mean
// anything, and a flat series never produces anomalies.
func (a *Analyzer) findAnomalies(daily map[string]map[string]int) []model.Anomaly {
	minDays := a.cfg.MinHistoryDays
	if minDays <= 0 {
		minDays = 3
	}
	minCount := a.cfg.MinDailyCount
	if minCount <= 0 {
		minCount = 3
	}
	zThreshold := a.cfg.ZScoreThreshold
	if zThreshold <= 0 {
		zThreshold = 2.0
	}

	var anomalies []model.Anomaly
	for tname, byDate := range daily {
		if len(byDate) < minDays {
			continue
		}

		var sum float64
		for _, c := range byDate {
			sum += float64(c)
		}
		mean := sum / float64(len(byDate))

		var variance float64
		for _, c := range byDate {
			d := float64(c) - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(len(byDate)))
		if std == 0 {
			continue
		}

		for date, count := range byDate {
			z := (float64(count) - mean) / std
			if z >= zThreshold && count >= minCount {
				anomalies = append(anomalies, model.Anomaly{
					Target: tname,
					Date:   date,
					Count:  count,
					ZScore: z,
				})
			}
		}
	}

	sort.Slice(anomalies, func(i, j int) bool {
		if anomalies[i].ZScore != anomalies[j].ZScore {
			return anomalies[i].ZScore > anomalies[j].ZScore
		}
		return fmt.Sprintf("%s/%s", anomalies[i].Target, anomalies[i].Date) <
			fmt.Sprintf("%s/%s", anomalies[j].Target, anomalies[j].Date)
	})
	return anomalies
}
