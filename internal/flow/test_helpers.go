package flow

import (
	"context"
	"sync"

	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/openai/openai-go"
)

// NewMockStateManager creates a state manager over an empty in-memory store.
func NewMockStateManager() StateManager {
	return NewStoreBasedStateManager(store.NewInMemoryStore())
}

// MockGenAIClient is a scripted language model for tests. Respond, when set,
// decides every reply; otherwise Responses are returned in order and the last
// one repeats.
type MockGenAIClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Respond   func(messages []openai.ChatCompletionMessageParamUnion) (string, error)
	Calls     int
	Temps     []float64
}

func (m *MockGenAIClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return m.GenerateWithTemperature(ctx, messages, -1)
}

func (m *MockGenAIClient) GenerateWithTemperature(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.Temps = append(m.Temps, temperature)
	if m.Respond != nil {
		return m.Respond(messages)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	i := m.Calls - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return m.Responses[i], nil
}

// CallCount returns the number of model calls so far.
func (m *MockGenAIClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
