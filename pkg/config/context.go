package config

import (
	"context"
	"net"
)

type contextKey struct{}

// ContextWithConfig returns a context carrying cfg.
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext returns the Config stored in ctx, or the defaults when none is set.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(contextKey{}).(*Config); ok && cfg != nil {
		return cfg
	}
	return Default()
}

// Addr returns the host:port pair for the redis section.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}
