package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PROMOAI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "PROMOAI_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PROMOAI_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "PROMOAI_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "together.base_url", typ: kString, env: "PROMOAI_TOGETHER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Together.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Together.BaseURL },
	},
	{
		key: "together.model", typ: kString, env: "PROMOAI_TOGETHER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Together.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Together.Model },
	},
	{
		key: "together.api_key", typ: kString, env: "PROMOAI_TOGETHER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Together.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Together.APIKey },
	},
	{
		key: "together.requests_per_minute", typ: kInt, env: "PROMOAI_TOGETHER_RPM",
		apply:   func(cfg *Config, v any) { cfg.Together.RequestsPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Together.RequestsPerMinute },
	},
	{
		key: "generation.provider", typ: kString, env: "PROMOAI_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.max_iterations", typ: kInt, env: "PROMOAI_MAX_ITERATIONS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxIterations = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxIterations },
	},
	{
		key: "generation.additional_iterations", typ: kInt, env: "PROMOAI_ADDITIONAL_ITERATIONS",
		apply:   func(cfg *Config, v any) { cfg.Generation.AdditionalIterations = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.AdditionalIterations },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PROMOAI_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PROMOAI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// account is the keychain account name of a secret key.
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secrets the environment left empty from the secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.account()); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
