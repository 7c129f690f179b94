package ingest

import "time"

// Strategy defines how ingestion writes records into the vector store.
type Strategy string

const (
	StrategyUpsert  Strategy = "upsert"
	StrategyReplace Strategy = "replace"
)

const (
	defaultRetryAttempts = 3
	defaultBackoffBase   = 200 * time.Millisecond
	defaultBackoffMax    = 2 * time.Second
)

// Options controls ingestion execution details provided by callers.
type Options struct {
	Strategy Strategy
	// BatchSize overrides the configured embedder batch size when positive.
	BatchSize int
	// Metadata is merged into every persisted record.
	Metadata map[string]any
	// Retry tuning for embedding and persistence calls.
	RetryAttempts int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	RetryJitter   bool
}

func (o *Options) normalizedStrategy() Strategy {
	if o == nil || o.Strategy == "" {
		return StrategyUpsert
	}
	return o.Strategy
}

func (o *Options) retryAttempts() int {
	if o == nil || o.RetryAttempts <= 0 || o.RetryAttempts > 100 {
		return defaultRetryAttempts
	}
	return o.RetryAttempts
}

func (o *Options) backoffBase() time.Duration {
	if o == nil || o.BackoffBase <= 0 {
		return defaultBackoffBase
	}
	return o.BackoffBase
}

func (o *Options) backoffMax() time.Duration {
	if o == nil || o.BackoffMax <= 0 {
		return defaultBackoffMax
	}
	return o.BackoffMax
}
