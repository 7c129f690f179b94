package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/ragforge/ragforge/engine/knowledge"
	"golang.org/x/sync/errgroup"
)

// Composite aggregates several knowledge sources behind the knowledge.Base
// contract. Retrieval fans out to every member concurrently and merges the
// partial results.
type Composite struct {
	sources []knowledge.Base
}

// NewComposite builds a composite over the given sources. At least one
// source is required and none may be nil.
func NewComposite(sources ...knowledge.Base) (*Composite, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: composite requires at least one knowledge source", core.ErrInvalidArgument)
	}
	for i, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("%w: composite source %d is nil", core.ErrInvalidArgument, i)
		}
	}
	return &Composite{sources: append([]knowledge.Base(nil), sources...)}, nil
}

// Len returns the number of member sources.
func (c *Composite) Len() int {
	return len(c.sources)
}

// AddDocuments fans the document list out to every member concurrently.
// Members fail independently; all are attempted before errors are reported.
func (c *Composite) AddDocuments(ctx context.Context, docs []*knowledge.Document) error {
	g, ctx := errgroup.WithContext(ctx)
	errs := make([]error, len(c.sources))
	for i, src := range c.sources {
		g.Go(func() error {
			errs[i] = src.AddDocuments(ctx, docs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// Retrieve queries every member concurrently with the same query and config,
// deduplicates by document ID keeping the first occurrence in member order,
// and sorts the merged set by descending score. Unscored documents sort
// last; equal scores tie-break by ID. No truncation happens beyond what
// each member already applied.
func (c *Composite) Retrieve(
	ctx context.Context,
	query string,
	cfg knowledge.RetrieveConfig,
) ([]*knowledge.Document, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, ctx := errgroup.WithContext(ctx)
	results := make([][]*knowledge.Document, len(c.sources))
	errs := make([]error, len(c.sources))
	for i, src := range c.sources {
		g.Go(func() error {
			results[i], errs[i] = src.Retrieve(ctx, query, cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("composite retrieve: %w", err)
	}
	return mergeResults(results), nil
}

func mergeResults(results [][]*knowledge.Document) []*knowledge.Document {
	seen := make(map[string]struct{})
	merged := make([]*knowledge.Document, 0)
	for _, partial := range results {
		for _, doc := range partial {
			if doc == nil {
				continue
			}
			if _, ok := seen[doc.ID]; ok {
				continue
			}
			seen[doc.ID] = struct{}{}
			merged = append(merged, doc)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		switch {
		case a.Score == nil && b.Score == nil:
			return a.ID < b.ID
		case a.Score == nil:
			return false
		case b.Score == nil:
			return true
		case *a.Score != *b.Score:
			return *a.Score > *b.Score
		default:
			return a.ID < b.ID
		}
	})
	return merged
}
