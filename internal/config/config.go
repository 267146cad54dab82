package config

import (
	"fmt"
	"strings"

	"github.com/kalambet/promoai/internal/engine"
)

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Together   TogetherConfig
	Generation GenerationConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken enables bearer auth on the HTTP API when set.
	APIToken string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type TogetherConfig struct {
	BaseURL           string
	Model             string
	APIKey            string
	RequestsPerMinute int
}

type GenerationConfig struct {
	Provider             string
	MaxIterations        int
	AdditionalIterations int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   engine.DefaultModel(engine.Ollama),
		},
		Together: TogetherConfig{
			BaseURL: "https://api.together.xyz/v1",
			Model:   engine.DefaultModel(engine.Together),
		},
		Generation: GenerationConfig{
			Provider:             engine.Ollama.String(),
			MaxIterations:        5,
			AdditionalIterations: 5,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Provider returns the configured default provider.
func (c Config) Provider() (engine.Provider, error) {
	return engine.ParseProvider(c.Generation.Provider)
}

// ModelFor returns the configured model for p.
func (c Config) ModelFor(p engine.Provider) string {
	switch p {
	case engine.Ollama:
		return c.Ollama.Model
	case engine.Together:
		return c.Together.Model
	}
	return ""
}

// APIKeyFor returns the configured credential for p.
func (c Config) APIKeyFor(p engine.Provider) string {
	if p == engine.Together {
		return c.Together.APIKey
	}
	return ""
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.promoai.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/promoai/config.json
// and secrets fall back to $XDG_DATA_HOME/promoai/secrets.json.
//
// Environment variables (PROMOAI_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if _, err := cfg.Provider(); err != nil {
		return fmt.Errorf("invalid config generation.provider: %w", err)
	}
	if cfg.Generation.MaxIterations < 0 || cfg.Generation.AdditionalIterations < 0 {
		return fmt.Errorf("invalid config: iteration limits must be non-negative, got %d/%d",
			cfg.Generation.MaxIterations, cfg.Generation.AdditionalIterations)
	}
	if cfg.Together.RequestsPerMinute < 0 {
		return fmt.Errorf("invalid config together.requests_per_minute: %d", cfg.Together.RequestsPerMinute)
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
