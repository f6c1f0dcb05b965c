package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient provides a controllable implementation of LLMClient for testing.
// Errors queue ahead of responses: a non-nil error at the head is returned first.
type MockClient struct {
	mu            sync.Mutex
	model         string
	responses     []CompletionResponse
	responseIndex int
	errors        []error
	errorIndex    int
	requests      []CompletionRequest
}

// NewMockClient creates a new mock client with predefined responses.
func NewMockClient(responses []CompletionResponse, errs []error) *MockClient {
	return &MockClient{
		model:     "mock-model",
		responses: responses,
		errors:    errs,
	}
}

// NewMockClientWithContent is a shorthand for responses that carry only content.
func NewMockClientWithContent(contents ...string) *MockClient {
	responses := make([]CompletionResponse, len(contents))
	for i, c := range contents {
		responses[i] = CompletionResponse{Content: c, StopReason: "stop"}
	}
	return NewMockClient(responses, nil)
}

func (m *MockClient) next(req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.errorIndex < len(m.errors) {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		if err != nil {
			return CompletionResponse{}, err
		}
	}

	if m.responseIndex >= len(m.responses) {
		return CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}

	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// Complete returns the next predefined response or error.
func (m *MockClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	return m.next(req)
}

// Stream emits the next predefined response as one chunk per word.
func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.next(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 8)
	go func() {
		defer close(ch)
		send := func(c StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		content := resp.Content
		start := 0
		for i := 0; i < len(content); i++ {
			if content[i] == ' ' {
				if !send(StreamChunk{Content: content[start : i+1]}) {
					return
				}
				start = i + 1
			}
		}
		if start < len(content) && !send(StreamChunk{Content: content[start:]}) {
			return
		}
		send(StreamChunk{Done: true})
	}()
	return ch, nil
}

// GetModelName returns the mock model name.
func (m *MockClient) GetModelName() string {
	return m.model
}

// Requests returns a copy of every request received so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many requests were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
