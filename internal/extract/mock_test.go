package extract

import (
	"context"

	"github.com/sells-group/reddit-intel/pkg/anthropic"
)

// mockAI returns scripted responses in order, recording each request.
type mockAI struct {
	requests  []anthropic.MessageRequest
	responses []string
	err       error
}

func (m *mockAI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}

	text := "{}"
	if len(m.responses) > 0 {
		text = m.responses[0]
		m.responses = m.responses[1:]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}
