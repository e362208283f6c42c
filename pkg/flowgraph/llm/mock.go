package llm

import (
	"context"
	"sync"
)

// MockClient is a Client that returns canned responses and records every
// request it receives.
type MockClient struct {
	mu           sync.Mutex
	response     string
	responses    []string
	next         int
	err          error
	completeFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Calls holds every request in arrival order.
	Calls []CompletionRequest
}

// NewMockClient returns a mock that always answers response.
func NewMockClient(response string) *MockClient {
	return &MockClient{response: response}
}

// WithResponses makes the mock answer with responses in turn, cycling back
// to the first after the last.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.next = 0
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithCompleteFunc replaces the canned answers with fn.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	if fn := m.completeFunc; fn != nil {
		m.mu.Unlock()
		return fn(ctx, req)
	}
	content := m.response
	if len(m.responses) > 0 {
		content = m.responses[m.next%len(m.responses)]
		m.next++
	}
	m.mu.Unlock()

	usage := TokenUsage{
		InputTokens:  estimateTokens(requestText(req)),
		OutputTokens: estimateTokens(content),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	model := req.Model
	if model == "" {
		model = "mock"
	}
	return &CompletionResponse{
		Content:      content,
		Usage:        usage,
		Model:        model,
		FinishReason: "stop",
	}, nil
}

// Stream implements Client by sending the whole Complete answer as one
// final chunk.
func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	usage := resp.Usage
	ch <- StreamChunk{Content: resp.Content, Usage: &usage, Done: true}
	close(ch)
	return ch, nil
}

// CallCount returns the number of requests received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil before the first call.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	req := m.Calls[len(m.Calls)-1]
	return &req
}

// Reset forgets recorded calls and restarts the response sequence.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}

func requestText(req CompletionRequest) string {
	text := req.SystemPrompt
	for _, msg := range req.Messages {
		text += msg.Content
	}
	return text
}

// estimateTokens approximates four characters per token, at least one.
func estimateTokens(s string) int {
	if n := len(s) / 4; n > 0 {
		return n
	}
	return 1
}

var _ Client = (*MockClient)(nil)
