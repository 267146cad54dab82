package engine

import (
	"context"
	"sync"

	"github.com/kalambet/promoai/internal/together"
)

// Resolver maps a provider and its credentials to a ready Transport.
type Resolver interface {
	Resolve(p Provider, creds Credentials) (Transport, error)
}

// ModelLister is implemented by transports that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Config holds what the registry needs to build transports.
type Config struct {
	OllamaBaseURL             string
	TogetherBaseURL           string
	TogetherRequestsPerMinute int
}

// maxTogetherClients bounds the Together client cache. The oldest client is
// dropped once it is full.
const maxTogetherClients = 16

// Registry is the default Resolver. It is safe for concurrent use; Together
// clients are cached per API key so request pacing is shared per account.
type Registry struct {
	cfg    Config
	ollama *OllamaTransport

	mu       sync.Mutex
	together map[string]*TogetherTransport
	keys     []string // cache insertion order
}

// NewRegistry creates a Registry from cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		ollama:   NewOllamaTransport(cfg.OllamaBaseURL),
		together: make(map[string]*TogetherTransport),
	}
}

// Resolve returns the transport for p. Unknown providers and missing
// required credentials yield a *ConfigError.
func (r *Registry) Resolve(p Provider, creds Credentials) (Transport, error) {
	switch p {
	case Ollama:
		return r.ollama, nil
	case Together:
		if creds.APIKey == "" {
			return nil, &ConfigError{Provider: p.String(), Reason: "API key is required"}
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		t, ok := r.together[creds.APIKey]
		if !ok {
			if len(r.keys) >= maxTogetherClients {
				delete(r.together, r.keys[0])
				r.keys = r.keys[1:]
			}
			t = NewTogetherTransport(together.NewClient(creds.APIKey,
				together.WithBaseURL(r.cfg.TogetherBaseURL),
				together.WithRequestsPerMinute(r.cfg.TogetherRequestsPerMinute),
			))
			r.together[creds.APIKey] = t
			r.keys = append(r.keys, creds.APIKey)
		}
		return t, nil
	}
	return nil, &ConfigError{Provider: p.String(), Reason: "not supported"}
}

// Ollama returns the local transport regardless of credentials.
func (r *Registry) Ollama() *OllamaTransport {
	return r.ollama
}
