package engine

import (
	"context"

	"github.com/kalambet/promoai/internal/conversation"
	"github.com/kalambet/promoai/internal/together"
)

const (
	// TogetherMaxTokens bounds the length of each generated reply.
	TogetherMaxTokens = 4096
	// TogetherTemperature keeps generated model code close to deterministic.
	TogetherTemperature = 0.1
)

// TogetherTransport adapts the internal/together.Client to the Transport interface.
type TogetherTransport struct {
	client *together.Client
}

// NewTogetherTransport wraps an already configured client.
func NewTogetherTransport(client *together.Client) *TogetherTransport {
	return &TogetherTransport{client: client}
}

func (t *TogetherTransport) Send(ctx context.Context, model string, turns []conversation.Turn) (string, error) {
	msgs := make([]together.Message, len(turns))
	for i, m := range turns {
		msgs[i] = together.Message{Role: string(m.Role), Content: m.Content}
	}

	reply, err := t.client.Complete(ctx, together.ChatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   TogetherMaxTokens,
		Temperature: TogetherTemperature,
	})
	if err != nil {
		return "", &TransportError{Provider: Together, Err: err}
	}
	return reply, nil
}

// ListModels returns the chat models Together serves.
func (t *TogetherTransport) ListModels(ctx context.Context) ([]string, error) {
	models, err := t.client.ListModels(ctx)
	if err != nil {
		return nil, &TransportError{Provider: Together, Err: err}
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		if m.Type != "" && m.Type != "chat" {
			continue
		}
		names = append(names, m.ID)
	}
	return names, nil
}
