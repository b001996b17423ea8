package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reddit-intel/internal/model"
	"github.com/sells-group/reddit-intel/pkg/anthropic"
)

const companySystemPrompt = `You identify companies from their web domains.

Given a domain and a naive name guess, respond with ONLY a JSON object:
{"canonical_name": "the company's proper name", "aliases": ["other names, abbreviations, former names, and product names the company is known by"]}

Use the guess when you do not recognize the domain. No prose, no markdown fences.`

// resolveCompany turns the job's domain into a canonical company identity.
// The heuristic name seeds the LLM call; the LLM supplies the proper name
// and the alias set that drives discovery search terms.
func (p *Pipeline) resolveCompany(ctx context.Context, domain string) (model.Company, error) {
	guess := NameFromDomain(domain)
	if guess == "" {
		return model.Company{}, eris.Errorf("pipeline: cannot derive a company name from %q", domain)
	}

	resp, err := p.ai.CreateMessage(ctx, p.companyRequest(domain, guess))
	if err != nil {
		return model.Company{}, eris.Wrap(err, "pipeline: resolve company")
	}
	resp.Usage.LogCost(p.cfg.Anthropic.Model, "company_resolution")

	name, aliases := parseCompanyResponse(resp.Text())
	if name == "" {
		// An unparseable answer degrades to the heuristic instead of
		// failing the job.
		zap.L().Warn("company resolution returned no JSON, using heuristic name",
			zap.String("phase", "resolving_company"),
			zap.String("domain", domain),
			zap.String("guess", guess),
		)
		name = guess
	}

	company := model.Company{
		Domain:        domain,
		CanonicalName: name,
		Aliases:       dedupeNames(append([]string{name}, aliases...)),
	}
	zap.L().Info("company resolved",
		zap.String("phase", "resolving_company"),
		zap.String("domain", domain),
		zap.String("canonical_name", company.CanonicalName),
		zap.Int("aliases", len(company.Aliases)),
	)
	return company, nil
}

func (p *Pipeline) companyRequest(domain, guess string) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:     p.cfg.Anthropic.Model,
		MaxTokens: p.cfg.Anthropic.MaxTokens,
		System:    companySystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Domain: %s\nName guess: %s", domain, guess),
		}},
	}
}

// parseCompanyResponse pulls the JSON object out of the model's reply,
// tolerating surrounding prose.
func parseCompanyResponse(text string) (string, []string) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", nil
	}

	var payload struct {
		CanonicalName string   `json:"canonical_name"`
		Aliases       []string `json:"aliases"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.CanonicalName), payload.Aliases
}

// dedupeNames collapses duplicates case-insensitively, keeping first-seen
// forms and order.
func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		out = append(out, n)
	}
	return out
}
