package embedder

import (
	"fmt"
	"strings"

	"github.com/ragforge/ragforge/engine/core"
)

// Provider enumerates supported embedding backends.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGoogle Provider = "google"
)

// Config captures normalized settings for an embedding backend.
type Config struct {
	ID            string
	Provider      Provider
	Model         string
	APIKey        string
	Dimension     int
	BatchSize     int
	StripNewLines bool
	// Options carries provider-specific overrides such as project_id.
	Options map[string]any
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: embedder id is required", core.ErrInvalidArgument)
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return fmt.Errorf("%w: embedder %q: provider is required", core.ErrInvalidArgument, cfg.ID)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("%w: embedder %q: model is required", core.ErrInvalidArgument, cfg.ID)
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("%w: embedder %q: dimension must be greater than zero", core.ErrInvalidArgument, cfg.ID)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("%w: embedder %q: batch size must be greater than zero", core.ErrInvalidArgument, cfg.ID)
	}
	return nil
}

func lookupString(options map[string]any, key string) string {
	if len(options) == 0 {
		return ""
	}
	val, ok := options[key]
	if !ok {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
