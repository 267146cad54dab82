package engine

import (
	"context"

	"github.com/kalambet/promoai/internal/conversation"
	"github.com/kalambet/promoai/internal/ollama"
)

// OllamaTransport adapts the internal/ollama.Client to the Transport interface.
type OllamaTransport struct {
	client *ollama.Client
}

// NewOllamaTransport creates a transport backed by an Ollama server at baseURL.
func NewOllamaTransport(baseURL string) *OllamaTransport {
	return &OllamaTransport{client: ollama.New(baseURL)}
}

// Client exposes the underlying Ollama client for model management.
func (t *OllamaTransport) Client() *ollama.Client {
	return t.client
}

func (t *OllamaTransport) Send(ctx context.Context, model string, turns []conversation.Turn) (string, error) {
	msgs := make([]ollama.Message, len(turns))
	for i, m := range turns {
		msgs[i] = ollama.Message{Role: string(m.Role), Content: m.Content}
	}

	reply, err := t.client.Chat(ctx, model, msgs)
	if err != nil {
		return "", &TransportError{Provider: Ollama, Err: err}
	}
	return reply, nil
}

// ListModels returns the models pulled into the local server.
func (t *OllamaTransport) ListModels(ctx context.Context) ([]string, error) {
	models, err := t.client.ListModels(ctx)
	if err != nil {
		return nil, &TransportError{Provider: Ollama, Err: err}
	}
	return models, nil
}
