package llm

import (
	"context"
	"sync"
)

// MockGenerator is an in-process generator for tests and for running the
// service without a Gemini key.
type MockGenerator struct {
	mu      sync.Mutex
	replies []string
	next    int
	err     error

	Prompts      []string
	Temperatures []float32
}

func NewMockGenerator(replies ...string) *MockGenerator {
	if len(replies) == 0 {
		replies = []string{"I'm listening. Tell me more."}
	}
	return &MockGenerator{replies: replies}
}

// FailWith makes every subsequent Generate call return err.
func (m *MockGenerator) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockGenerator) Generate(_ context.Context, prompt string, temperature float32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	m.Temperatures = append(m.Temperatures, temperature)
	if m.err != nil {
		return "", m.err
	}
	reply := m.replies[m.next%len(m.replies)]
	m.next++
	return reply, nil
}
