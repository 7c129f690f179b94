package vectordb

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragforge/ragforge/engine/core"
)

// New instantiates a vector store backed by the requested provider.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return instantiateStore(ctx, cfg)
}

func instantiateStore(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Provider {
	case ProviderMemory:
		return newMemoryStore(cfg), nil
	case ProviderFilesystem:
		return newFileStore(cfg)
	case ProviderPGVector:
		return newPGStore(ctx, cfg)
	case ProviderQdrant:
		return newQdrantStore(ctx, cfg)
	case ProviderRedis:
		return newRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: vector store %q: provider %q is not supported", core.ErrInvalidArgument, cfg.ID, cfg.Provider)
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: vector store config is required", core.ErrInvalidArgument)
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: vector store id is required", core.ErrInvalidArgument)
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return fmt.Errorf("%w: vector store %q: provider is required", core.ErrInvalidArgument, cfg.ID)
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Path = strings.TrimSpace(cfg.Path)
	switch cfg.Provider {
	case ProviderPGVector, ProviderQdrant:
		if cfg.DSN == "" {
			return fmt.Errorf("%w: vector store %q: dsn is required", core.ErrInvalidArgument, cfg.ID)
		}
	case ProviderFilesystem:
		if cfg.Path == "" {
			return fmt.Errorf("%w: vector store %q: path is required", core.ErrInvalidArgument, cfg.ID)
		}
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("%w: vector store %q: dimension must be greater than zero", core.ErrInvalidArgument, cfg.ID)
	}
	if cfg.MaxTopK < 0 {
		return fmt.Errorf("%w: vector store %q: max_top_k must be non-negative", core.ErrInvalidArgument, cfg.ID)
	}
	return nil
}

// validateTopK enforces the shared search contract for every provider.
func validateTopK(provider string, topK int) error {
	if topK <= 0 {
		return fmt.Errorf("%w: %s: top k must be positive, got %d", core.ErrInvalidArgument, provider, topK)
	}
	return nil
}

// validateRecord enforces the shared upsert contract for every provider.
func validateRecord(provider string, rec *Record, dimension int) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("%w: %s: record id is required", core.ErrInvalidArgument, provider)
	}
	if len(rec.Embedding) != dimension {
		return fmt.Errorf("%s: record %q: %w", provider, rec.ID, core.NewDimensionError(dimension, len(rec.Embedding)))
	}
	return nil
}
