package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vidgen/backend/internal/config"
	"github.com/vidgen/backend/internal/db"
	"github.com/vidgen/backend/internal/fetch"
	"github.com/vidgen/backend/internal/generation"
	"github.com/vidgen/backend/internal/handlers"
	"github.com/vidgen/backend/internal/middleware"
	"github.com/vidgen/backend/internal/provider"
	"github.com/vidgen/backend/internal/repositories"
	"github.com/vidgen/backend/internal/storage"
)

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. pool may be nil, in which case generation history is disabled.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config) (handlers.Dependencies, error) {
	store, err := storage.NewS3Storage(ctx, cfg.Store)
	if err != nil {
		return handlers.Dependencies{}, err
	}

	generator, err := newGenerator(cfg.Provider)
	if err != nil {
		return handlers.Dependencies{}, err
	}

	fetcher, err := fetch.NewClient(fetch.Options{ProxyURL: cfg.FetchProxy})
	if err != nil {
		return handlers.Dependencies{}, fmt.Errorf("build fetch client: %w", err)
	}

	deps := handlers.Dependencies{MaxMemoryBytes: cfg.MaxMemoryBytes}
	collaborators := generation.Collaborators{
		Storage:   store,
		Generator: generator,
		Fetcher:   fetcher,
	}
	if pool != nil {
		history := repositories.NewPostgresGenerationRepository(pool)
		collaborators.History = history
		deps.History = history
	}

	pipeline, err := generation.NewPipeline(collaborators, generation.Options{
		StorageTimeout:  cfg.Pipeline.StorageTimeout,
		ProviderTimeout: cfg.Pipeline.ProviderTimeout,
		FetchTimeout:    cfg.Pipeline.FetchTimeout,
		RetryBackoff:    cfg.Pipeline.RetryBackoff,
	})
	if err != nil {
		return handlers.Dependencies{}, err
	}
	deps.Generator = pipeline

	if cfg.RateLimitPerMin > 0 {
		deps.Limiter = middleware.NewIPRateLimiter(cfg.RateLimitPerMin, time.Minute, cfg.RateLimitBurst, 10*time.Minute)
	}

	return deps, nil
}

func newGenerator(cfg config.ProviderConfig) (provider.Generator, error) {
	switch cfg.Name {
	case config.ProviderFal:
		client, err := provider.NewFalClient(provider.FalOptions{
			APIKey:       cfg.FalKey,
			BaseURL:      cfg.FalBaseURL,
			Model:        cfg.FalModel,
			PollInterval: cfg.PollInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("build fal client: %w", err)
		}
		return client, nil
	case config.ProviderStatic:
		return provider.NewStaticGenerator(cfg.StaticVideoURL, cfg.FalModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}
