package knowledge

import (
	"context"
	"fmt"

	"github.com/ragforge/ragforge/engine/core"
)

const (
	// DefaultRetrievalLimit caps results when no limit is supplied.
	DefaultRetrievalLimit = 5
	// DefaultScoreThreshold filters weak matches when no threshold is supplied.
	DefaultScoreThreshold = 0.5
)

// RetrieveConfig controls a retrieval call.
type RetrieveConfig struct {
	// Limit is the maximum number of documents returned.
	Limit int
	// ScoreThreshold drops matches scoring strictly below it.
	ScoreThreshold float64
}

// DefaultRetrieveConfig returns the built-in retrieval settings.
func DefaultRetrieveConfig() RetrieveConfig {
	return RetrieveConfig{
		Limit:          DefaultRetrievalLimit,
		ScoreThreshold: DefaultScoreThreshold,
	}
}

// Validate reports whether the config is usable.
func (c RetrieveConfig) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w: retrieval limit must be greater than zero", core.ErrInvalidArgument)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("%w: score threshold must be within [0, 1]", core.ErrInvalidArgument)
	}
	return nil
}

// Base is the contract every knowledge source implements.
type Base interface {
	// AddDocuments embeds and persists documents. Documents that fail to
	// embed are skipped; the remainder is still stored.
	AddDocuments(ctx context.Context, docs []*Document) error
	// Retrieve returns documents relevant to the query ordered by
	// descending score.
	Retrieve(ctx context.Context, query string, cfg RetrieveConfig) ([]*Document, error)
}
