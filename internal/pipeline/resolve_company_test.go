package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCompanyParsesLLMAnswer(t *testing.T) {
	ai := &mockAI{responses: []string{
		`Sure, here you go: {"canonical_name":"Acme Corporation","aliases":["Acme","AcmeHQ","acme corporation"]}`,
	}}
	p := New(testConfig(), nil, nil, ai, nil)

	company, err := p.resolveCompany(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Equal(t, "acme.com", company.Domain)
	assert.Equal(t, "Acme Corporation", company.CanonicalName)
	// Canonical name leads; case-duplicates collapse.
	assert.Equal(t, []string{"Acme Corporation", "Acme", "AcmeHQ"}, company.Aliases)

	require.Len(t, ai.requests, 1)
	assert.Contains(t, ai.requests[0].Messages[0].Content, "Domain: acme.com")
	assert.Contains(t, ai.requests[0].Messages[0].Content, "Name guess: Acme")
}

func TestResolveCompanyFallsBackToHeuristic(t *testing.T) {
	ai := &mockAI{responses: []string{"I could not determine the company."}}
	p := New(testConfig(), nil, nil, ai, nil)

	company, err := p.resolveCompany(context.Background(), "www.acme-corp.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", company.CanonicalName)
	assert.Equal(t, []string{"Acme Corp"}, company.Aliases)
}

func TestResolveCompanyAPIFailure(t *testing.T) {
	ai := &mockAI{err: eris.New("api down")}
	p := New(testConfig(), nil, nil, ai, nil)

	_, err := p.resolveCompany(context.Background(), "acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve company")
}

func TestResolveCompanyUnusableDomain(t *testing.T) {
	p := New(testConfig(), nil, nil, &mockAI{}, nil)
	_, err := p.resolveCompany(context.Background(), "   ")
	assert.Error(t, err)
}
