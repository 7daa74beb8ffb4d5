package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted client for tests. Responses are consumed in order;
// when the script runs out, Err (or an empty response) is returned.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     []CompletionRequest
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest, profile Profile) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &CompletionResponse{}, nil
	}
	content := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &CompletionResponse{Content: content}, nil
}

func (m *MockClient) Synthesize(ctx context.Context, prompt string, maxTokens int, profile Profile) (string, error) {
	resp, err := m.Complete(ctx, CompletionRequest{Prompt: prompt, MaxTokens: maxTokens}, profile)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (m *MockClient) Model() string { return "mock" }

var _ Client = (*MockClient)(nil)
