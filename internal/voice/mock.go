package voice

import (
	"context"
	"sync"
)

// MockSynthesizer is a local fallback used when ElevenLabs is not configured.
type MockSynthesizer struct {
	mu    sync.Mutex
	err   error
	Texts []string
}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

// FailWith makes every subsequent Synthesize call return err.
func (m *MockSynthesizer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, text)
	if m.err != nil {
		return nil, m.err
	}
	// A tiny placeholder payload; enough for handlers and tests that only
	// care about bytes being present.
	return []byte("ID3mock-audio"), nil
}
