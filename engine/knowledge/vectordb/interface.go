package vectordb

import (
	"context"
)

// Provider enumerates supported vector index backends.
type Provider string

const (
	// ProviderMemory keeps vectors in process memory.
	ProviderMemory Provider = "memory"
	// ProviderFilesystem persists vectors to a JSON snapshot on disk.
	ProviderFilesystem Provider = "filesystem"
	ProviderPGVector   Provider = "pgvector"
	ProviderQdrant     Provider = "qdrant"
	ProviderRedis      Provider = "redis"
)

// Record represents a document persisted to the vector index.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK int
	// MinScore drops matches scoring strictly below it. A nil value applies
	// no threshold, so even negative-scored matches come back.
	MinScore *float64
	Filters  map[string]string
}

// Threshold builds a MinScore value for SearchOptions.
func Threshold(score float64) *float64 { return &score }

// Match captures a similarity search result.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Filter specifies delete criteria. IDs and Metadata combine as a union.
type Filter struct {
	IDs      []string
	Metadata map[string]string
}

// Store exposes the contract for vector persistence and similarity search.
// Implementations reject records and queries whose embedding length differs
// from the configured dimension.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	// Delete removes matching records and reports how many were removed.
	// Deleting absent records is not an error.
	Delete(ctx context.Context, filter Filter) (int, error)
	// Dimension returns the fixed embedding dimension of the index.
	Dimension() int
	Close(ctx context.Context) error
}

// Config captures normalized connection details for a vector index.
type Config struct {
	ID          string
	Provider    Provider
	DSN         string
	Path        string
	Table       string
	Collection  string
	Namespace   string
	Index       string
	EnsureIndex bool
	Metric      string
	Dimension   int
	Auth        map[string]string
	// Options carries provider-specific overrides.
	Options map[string]any
	MaxTopK int
}
