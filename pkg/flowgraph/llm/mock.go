package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a scripted Client for tests and offline runs.
type MockClient struct {
	mu        sync.Mutex
	response  string
	responses []string
	next      int
	err       error
	complete  func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Calls records every request in order.
	Calls []CompletionRequest
}

// NewMockClient returns a client that always answers with response.
func NewMockClient(response string) *MockClient {
	return &MockClient{response: response}
}

// WithResponses makes the client cycle through responses.
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

// WithCompleteFunc answers calls with fn.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.complete = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn, err := m.complete, m.err
	content := m.response
	if len(m.responses) > 0 {
		content = m.responses[m.next%len(m.responses)]
		m.next++
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	input := 0
	for _, msg := range req.Messages {
		input += estimateTokens(msg.Content)
	}
	input += estimateTokens(req.SystemPrompt)
	if input == 0 {
		input = 1
	}
	output := estimateTokens(content)
	if output == 0 {
		output = 1
	}

	return &CompletionResponse{
		Content:      content,
		Model:        "mock",
		FinishReason: "stop",
		Usage: TokenUsage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}, nil
}

// Stream implements Client. The reply arrives as one word per chunk.
func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(resp.Content, " ")
	ch := make(chan StreamChunk, len(words))
	for i, w := range words {
		chunk := StreamChunk{Content: w}
		if i == len(words)-1 {
			chunk.Done = true
			usage := resp.Usage
			chunk.Usage = &usage
		}
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

// CallCount returns the number of calls made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}

// Reset clears recorded calls and restarts the response cycle.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
