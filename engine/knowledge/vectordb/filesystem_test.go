package vectordb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldPersistAcrossReopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.json")
		store, err := newFileStore(&Config{ID: "fs", Path: path, Dimension: 2})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "a", Text: "alpha", Embedding: []float32{1, 0}, Metadata: map[string]any{"kind": "doc"}},
			{ID: "b", Text: "bravo", Embedding: []float32{0, 1}},
		}))
		require.NoError(t, store.Close(ctx))

		reopened, err := newFileStore(&Config{ID: "fs", Path: path, Dimension: 2})
		require.NoError(t, err)
		matches, err := reopened.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a", matches[0].ID)
		assert.Equal(t, "alpha", matches[0].Text)
		assert.Equal(t, "doc", matches[0].Metadata["kind"])
	})

	t.Run("ShouldPreserveInsertionOrderAcrossReopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.json")
		store, err := newFileStore(&Config{ID: "fs", Path: path, Dimension: 2})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "first", Embedding: []float32{1, 0}},
			{ID: "second", Embedding: []float32{0, 1}},
		}))
		reopened, err := newFileStore(&Config{ID: "fs", Path: path, Dimension: 2})
		require.NoError(t, err)
		matches, err := reopened.Search(ctx, []float32{0.5, 0.5}, SearchOptions{TopK: 2})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "first", matches[0].ID)
		assert.Equal(t, "second", matches[1].ID)
	})

	t.Run("ShouldRejectSnapshotWithOtherDimension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.json")
		store, err := newFileStore(&Config{ID: "fs", Path: path, Dimension: 2})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}}}))
		_, err = newFileStore(&Config{ID: "fs", Path: path, Dimension: 3})
		require.ErrorIs(t, err, core.ErrDimensionMismatch)
	})

	t.Run("ShouldReturnNegativeScoresWithoutThreshold", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.json")
		store, err := newFileStore(&Config{ID: "fs", Path: path, Dimension: 2})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}}}))
		matches, err := store.Search(ctx, []float32{-1, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.InDelta(t, -1, matches[0].Score, 1e-6)
	})

	t.Run("ShouldCountDeletedRecords", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.json")
		store, err := newFileStore(&Config{ID: "fs", Path: path, Dimension: 2})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "a", Embedding: []float32{1, 0}},
			{ID: "b", Embedding: []float32{0, 1}},
		}))
		removed, err := store.Delete(ctx, Filter{IDs: []string{"a", "missing"}})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}
