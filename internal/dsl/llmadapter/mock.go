package llmadapter

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter returns canned responses keyed by exact prompt match, falling
// back to a default responder function. It exists so session/scheduler tests
// can exercise llm_call and generate_subgraph deterministically, including
// spec.md §8 scenario 5 (LLM pause/resume with a generated subgraph) without
// any network access.
type MockAdapter struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []string
	Default   func(prompt string) (string, error)
}

// NewMock builds an empty mock adapter.
func NewMock() *MockAdapter {
	return &MockAdapter{responses: map[string]string{}}
}

// SetResponse registers the exact text returned every time prompt is seen.
func (m *MockAdapter) SetResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Generate implements Adapter.
func (m *MockAdapter) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	resp, ok := m.responses[prompt]
	m.mu.Unlock()
	if ok {
		return resp, nil
	}
	if m.Default != nil {
		return m.Default(prompt)
	}
	return "", fmt.Errorf("llmadapter: mock has no response registered for prompt %q", prompt)
}

// Calls returns every prompt seen so far, in order.
func (m *MockAdapter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
