package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/promoai/internal/config"
	"github.com/kalambet/promoai/internal/engine"
	"github.com/kalambet/promoai/internal/modelgen"
	"github.com/kalambet/promoai/internal/prompt"
	"github.com/kalambet/promoai/internal/repair"
	"github.com/kalambet/promoai/internal/storage"
)

// app bundles what the commands share: configuration, storage and the
// generation service built on top of them.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	registry *engine.Registry
	budget   repair.Budget
	svc      *modelgen.Service
}

// loadConfig is swapped in tests.
var loadConfig = config.Load

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newApp(cfg)
}

func newApp(cfg config.Config) (*app, error) {
	logger := newLogger(cfg.Log.Level, os.Stderr)
	slog.SetDefault(logger)

	provider, err := cfg.Provider()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	registry := engine.NewRegistry(engine.Config{
		OllamaBaseURL:             cfg.Ollama.BaseURL,
		TogetherBaseURL:           cfg.Together.BaseURL,
		TogetherRequestsPerMinute: cfg.Together.RequestsPerMinute,
	})
	budget := repair.Budget{
		Primary:   cfg.Generation.MaxIterations,
		Tolerance: cfg.Generation.AdditionalIterations,
	}
	ctrl := &repair.Controller{
		Resolver:      registry,
		Budget:        budget,
		ErrorTemplate: prompt.ErrorTemplate,
		Logger:        logger,
	}
	svc := modelgen.New(store, ctrl, modelgen.Settings{
		Provider: provider,
		Model:    cfg.ModelFor(provider),
		APIKey:   cfg.APIKeyFor(provider),
	}, logger)
	for _, p := range engine.Providers() {
		if key := cfg.APIKeyFor(p); key != "" {
			svc.SetAPIKey(p, key)
		}
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		budget:   budget,
		svc:      svc,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}
