package api

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kalambet/promoai/internal/conversation"
	"github.com/kalambet/promoai/internal/engine"
	"github.com/kalambet/promoai/internal/modelgen"
	"github.com/kalambet/promoai/internal/repair"
	"github.com/kalambet/promoai/internal/storage"
)

const validReply = "```yaml\nsequence:\n  - activity: Receive order\n  - activity: Ship order\n```"

var testBudget = repair.Budget{Primary: 1, Tolerance: 1}

// mockTransport replays replies and fails with err when set.
type mockTransport struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (m *mockTransport) Send(_ context.Context, _ string, _ []conversation.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", &engine.TransportError{Provider: engine.Ollama, Err: m.err}
	}
	if len(m.replies) == 0 {
		return "I cannot help with that.", nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

type mockResolver struct {
	t engine.Transport
}

func (m mockResolver) Resolve(p engine.Provider, creds engine.Credentials) (engine.Transport, error) {
	switch p {
	case engine.Ollama:
		return m.t, nil
	case engine.Together:
		if creds.APIKey == "" {
			return nil, &engine.ConfigError{Provider: p.String(), Reason: "API key is required"}
		}
		return m.t, nil
	}
	return nil, &engine.ConfigError{Provider: p.String(), Reason: "not supported"}
}

var errConnRefused = errors.New("connection refused")

func newTestService(t *testing.T, tr *mockTransport) *modelgen.Service {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctrl := &repair.Controller{
		Resolver: mockResolver{t: tr},
		Budget:   testBudget,
	}
	defaults := modelgen.Settings{Provider: engine.Ollama, Model: "gemma3:4b"}
	return modelgen.New(store, ctrl, defaults, nil)
}
