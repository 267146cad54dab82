package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/promoai/internal/conversation"
)

// Transport sends a conversation to a language model and returns the raw
// text of its reply. Implementations are single-shot: they never retry and
// add no timeout beyond what ctx carries.
type Transport interface {
	Send(ctx context.Context, model string, turns []conversation.Turn) (string, error)
}

// Provider identifies a transport backend.
type Provider int

const (
	// Ollama is a local model server reached over HTTP.
	Ollama Provider = iota + 1
	// Together is the Together AI cloud inference API.
	Together
)

// Providers lists every supported provider in display order.
func Providers() []Provider {
	return []Provider{Ollama, Together}
}

func (p Provider) String() string {
	switch p {
	case Ollama:
		return "Ollama"
	case Together:
		return "Together"
	}
	return fmt.Sprintf("Provider(%d)", int(p))
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == Ollama || p == Together
}

// RequiresAPIKey reports whether the provider needs a credential.
func (p Provider) RequiresAPIKey() bool {
	return p == Together
}

// ParseProvider maps a display name (case-insensitive) to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return Ollama, nil
	case "together", "together ai", "togetherai":
		return Together, nil
	}
	return 0, &ConfigError{Provider: s, Reason: "not supported"}
}

func (p Provider) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, &ConfigError{Provider: p.String(), Reason: "not supported"}
	}
	return []byte(p.String()), nil
}

func (p *Provider) UnmarshalText(text []byte) error {
	v, err := ParseProvider(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Credentials carries what a provider needs to authenticate.
type Credentials struct {
	APIKey string
}

// ConfigError reports a request that can never succeed as configured, such
// as an unknown provider or a missing API key. It is never retried.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("AI provider %s: %s", e.Provider, e.Reason)
}

// TransportError wraps a failure to obtain a reply from a provider:
// connection, authentication, HTTP status, or decoding.
type TransportError struct {
	Provider Provider
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s API connection failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
