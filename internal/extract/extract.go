// Package extract pulls entity and relationship suggestions out of source
// text with Claude.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/model"
	"github.com/sells-group/reddit-intel/internal/resilience"
	"github.com/sells-group/reddit-intel/pkg/anthropic"
)

// AllowedRelationships is the closed set of relationship types the pipeline
// accepts. Suggestions outside it are dropped.
var AllowedRelationships = map[string]bool{
	"founder":       true,
	"ceo":           true,
	"employee":      true,
	"investor":      true,
	"competitor":    true,
	"parentCompany": true,
	"subsidiary":    true,
	"partner":       true,
	"acquiredBy":    true,
	"boardMember":   true,
	"advisor":       true,
	"alumniOf":      true,
	"affiliation":   true,
	"critic":        true,
}

// EntitySuggestion is one entity proposed by the LLM for a source.
type EntitySuggestion struct {
	SourceID   string
	Name       string
	Type       model.EntityType
	Aliases    []string
	Confidence float64
}

// RelationshipSuggestion is one relationship proposed by the LLM. Subject
// and Object are entity names, resolved downstream.
type RelationshipSuggestion struct {
	SourceID   string
	Type       string
	Subject    string
	Object     string
	Confidence float64
	Evidence   string
}

// Extraction is the filtered result of one batch.
type Extraction struct {
	Entities      []EntitySuggestion
	Relationships []RelationshipSuggestion
}

// Extractor proposes entities and relationships for a batch of sources.
type Extractor interface {
	ExtractBatch(ctx context.Context, company model.AnalysisContext, sources []model.Source) (*Extraction, error)
}

const systemPrompt = `You analyze Reddit posts and comments for competitive intelligence about companies.

From each source, extract:
1. Entities: companies, products referred to as companies, and people. For each give its canonical name, known aliases, a type (company, person, or other), and your confidence from 0.0 to 1.0.
2. Relationships between entities, using ONLY these types: founder, ceo, employee, investor, competitor, parentCompany, subsidiary, partner, acquiredBy, boardMember, advisor, alumniOf, affiliation, critic. For each give subject and object entity names, a confidence from 0.0 to 1.0, and a short verbatim evidence quote.

Only extract what the text actually supports. Respond with ONLY valid JSON, no other text:
{"entities": [{"source_id": "", "name": "", "type": "company", "aliases": [], "confidence": 0.0}],
 "relationships": [{"source_id": "", "type": "", "subject": "", "object": "", "confidence": 0.0, "evidence": ""}]}`

// ClaudeExtractor implements Extractor over the Anthropic API.
type ClaudeExtractor struct {
	ai        anthropic.Client
	cfg       config.ExtractConfig
	retry     resilience.RetryConfig
	model     string
	maxTokens int64
}

// NewClaudeExtractor creates an extractor using the configured model.
func NewClaudeExtractor(ai anthropic.Client, cfg config.ExtractConfig, acfg config.AnthropicConfig) *ClaudeExtractor {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract_batch")
	// A malformed reply is worth another attempt, not just transport errors.
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return &ClaudeExtractor{
		ai:        ai,
		cfg:       cfg,
		retry:     retry,
		model:     acfg.Model,
		maxTokens: acfg.MaxTokens,
	}
}

// wire types mirroring the prompt's JSON contract.
type extractionResponse struct {
	Entities []struct {
		SourceID   string   `json:"source_id"`
		Name       string   `json:"name"`
		Type       string   `json:"type"`
		Aliases    []string `json:"aliases"`
		Confidence float64  `json:"confidence"`
	} `json:"entities"`
	Relationships []struct {
		SourceID   string  `json:"source_id"`
		Type       string  `json:"type"`
		Subject    string  `json:"subject"`
		Object     string  `json:"object"`
		Confidence float64 `json:"confidence"`
		Evidence   string  `json:"evidence"`
	} `json:"relationships"`
}

// ExtractBatch sends one batch of sources to Claude and returns the filtered
// suggestions: confidences clamped and thresholded, unknown relationship
// types and incomplete relationships dropped, suggestions for source IDs not
// in the batch dropped.
func (x *ClaudeExtractor) ExtractBatch(ctx context.Context, company model.AnalysisContext, sources []model.Source) (*Extraction, error) {
	if len(sources) == 0 {
		return &Extraction{}, nil
	}

	parsed, err := resilience.DoVal(ctx, x.retry, func(ctx context.Context) (*extractionResponse, error) {
		resp, err := x.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     x.model,
			MaxTokens: x.maxTokens,
			System:    systemPrompt,
			Messages: []anthropic.Message{
				{Role: "user", Content: x.userMessage(company, sources)},
			},
		})
		if err != nil {
			return nil, eris.Wrap(err, "extract: claude request")
		}
		resp.Usage.LogCost(x.model, "extraction")
		return parseResponse(resp.Text())
	})
	if err != nil {
		return nil, err
	}
	return x.filter(parsed, sources), nil
}

func (x *ClaudeExtractor) userMessage(company model.AnalysisContext, sources []model.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company under analysis: %s\n", company.CompanyName)
	if len(company.CompanyAliases) > 0 {
		fmt.Fprintf(&b, "Known aliases: %s\n", strings.Join(company.CompanyAliases, ", "))
	}
	if len(company.Competitors) > 0 {
		fmt.Fprintf(&b, "Known competitors: %s\n", strings.Join(company.Competitors, ", "))
	}
	b.WriteString("\nSources:\n")

	maxChars := x.cfg.MaxSourceChars
	if maxChars <= 0 {
		maxChars = 4000
	}
	for _, s := range sources {
		text := s.Text
		if len(text) > maxChars {
			text = text[:maxChars]
		}
		fmt.Fprintf(&b, "\n[source_id: %s, subreddit: r/%s]\n%s\n", s.ID, s.Subreddit, text)
	}
	return b.String()
}

// parseResponse pulls the embedded JSON document out of the model's reply.
func parseResponse(text string) (*extractionResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("extract: no JSON in response: %s", truncate(text, 120))
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, eris.Wrap(err, "extract: parse response JSON")
	}
	return &parsed, nil
}

func (x *ClaudeExtractor) filter(parsed *extractionResponse, sources []model.Source) *Extraction {
	inBatch := make(map[string]bool, len(sources))
	for _, s := range sources {
		inBatch[s.ID] = true
	}

	threshold := x.cfg.ConfidenceThreshold
	out := &Extraction{}
	dropped := 0

	for _, e := range parsed.Entities {
		conf := clamp(e.Confidence)
		if e.Name == "" || !inBatch[e.SourceID] || conf < threshold {
			dropped++
			continue
		}
		out.Entities = append(out.Entities, EntitySuggestion{
			SourceID:   e.SourceID,
			Name:       e.Name,
			Type:       entityType(e.Type),
			Aliases:    e.Aliases,
			Confidence: conf,
		})
	}

	for _, rel := range parsed.Relationships {
		conf := clamp(rel.Confidence)
		if !AllowedRelationships[rel.Type] ||
			rel.Subject == "" || rel.Object == "" ||
			!inBatch[rel.SourceID] || conf < threshold {
			dropped++
			continue
		}
		out.Relationships = append(out.Relationships, RelationshipSuggestion{
			SourceID:   rel.SourceID,
			Type:       rel.Type,
			Subject:    rel.Subject,
			Object:     rel.Object,
			Confidence: conf,
			Evidence:   rel.Evidence,
		})
	}

	if dropped > 0 {
		zap.L().Debug("extract: dropped suggestions",
			zap.Int("dropped", dropped),
			zap.Int("entities", len(out.Entities)),
			zap.Int("relationships", len(out.Relationships)),
		)
	}
	return out
}

func entityType(s string) model.EntityType {
	switch model.EntityType(s) {
	case model.EntityTypeCompany, model.EntityTypePerson:
		return model.EntityType(s)
	default:
		return model.EntityTypeOther
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
