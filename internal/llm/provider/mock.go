package provider

import (
	"context"
	"sync"
)

// MockProvider is a scriptable Provider for tests. Scripted entries are
// returned in order; once exhausted, the last entry repeats.
type MockProvider struct {
	mu     sync.Mutex
	script []mockEntry
	calls  []MockCall
	index  int
}

type mockEntry struct {
	resp *Response
	err  error
}

// MockCall records a single Chat invocation.
type MockCall struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
}

// NewMockProvider creates a mock provider with the given scripted responses.
func NewMockProvider(responses ...*Response) *MockProvider {
	m := &MockProvider{}
	for _, r := range responses {
		m.script = append(m.script, mockEntry{resp: r})
	}
	return m
}

// EnqueueResponse appends a scripted response.
func (m *MockProvider) EnqueueResponse(resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockEntry{resp: resp})
}

// EnqueueError appends a scripted error.
func (m *MockProvider) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockEntry{err: err})
}

// Chat implements Provider.Chat.
func (m *MockProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        tools,
	})

	if len(m.script) == 0 {
		return &Response{StopReason: StopReasonEndTurn}, nil
	}

	idx := m.index
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	m.index++

	entry := m.script[idx]
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.resp, nil
}

// Name implements Provider.Name.
func (m *MockProvider) Name() string { return "mock" }

// Model implements Provider.Model.
func (m *MockProvider) Model() string { return "mock-model" }

// Calls returns a copy of all recorded Chat invocations.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Chat invocations.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// TextResponse builds a plain text response that ends the turn.
func TextResponse(text string) *Response {
	return &Response{Content: text, StopReason: StopReasonEndTurn}
}
