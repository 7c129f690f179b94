package vectordb

import (
	"context"
	"testing"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldReturnExactMatchWithUnitScore", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 3})
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "x", Embedding: []float32{1, 0, 0}}}))
		matches, err := store.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "x", matches[0].ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	})

	t.Run("ShouldBreakEqualScoresByInsertionOrder", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 3})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "a", Embedding: []float32{1, 0, 0}},
			{ID: "b", Embedding: []float32{0, 1, 0}},
		}))
		matches, err := store.Search(ctx, []float32{0.5, 0.5, 0}, SearchOptions{TopK: 2})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "a", matches[0].ID)
		assert.Equal(t, "b", matches[1].ID)
		assert.InDelta(t, 0.7071, matches[0].Score, 1e-3)
		assert.InDelta(t, matches[0].Score, matches[1].Score, 1e-9)
	})

	t.Run("ShouldReturnEmptyResultFromEmptyIndex", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 3})
		matches, err := store.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 5})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("ShouldBeDeterministicAcrossRepeatedSearches", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 3})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "one", Embedding: []float32{1, 0, 0}},
			{ID: "two", Embedding: []float32{0.9, 0.1, 0}},
			{ID: "three", Embedding: []float32{0.8, 0.2, 0}},
		}))
		first, err := store.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 3})
		require.NoError(t, err)
		for range 5 {
			again, err := store.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 3})
			require.NoError(t, err)
			require.Equal(t, len(first), len(again))
			for i := range first {
				assert.Equal(t, first[i].ID, again[i].ID)
			}
		}
	})

	t.Run("ShouldScoreZeroMagnitudeVectorsAsZero", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 3})
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "zero", Embedding: []float32{0, 0, 0}}}))
		matches, err := store.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Zero(t, matches[0].Score)
	})

	t.Run("ShouldDropScoresStrictlyBelowMinScore", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "near", Embedding: []float32{1, 0}},
			{ID: "far", Embedding: []float32{0, 1}},
		}))
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5, MinScore: Threshold(0.5)})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "near", matches[0].ID)
	})

	t.Run("ShouldRejectNonPositiveTopK", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		_, err := store.Search(ctx, []float32{1, 0}, SearchOptions{})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: -1})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})

	t.Run("ShouldReturnNegativeScoresWithoutThreshold", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 3})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "x", Embedding: []float32{1, 0, 0}},
		}))
		matches, err := store.Search(ctx, []float32{-1, 0, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "x", matches[0].ID)
		assert.InDelta(t, -1, matches[0].Score, 1e-6)
	})

	t.Run("ShouldDropNegativeScoresAtZeroThreshold", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 3})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "x", Embedding: []float32{1, 0, 0}},
		}))
		matches, err := store.Search(ctx, []float32{-1, 0, 0}, SearchOptions{TopK: 1, MinScore: Threshold(0)})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("ShouldFilterByMetadata", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "kept", Embedding: []float32{1, 0}, Metadata: map[string]any{"kind": "doc"}},
			{ID: "skipped", Embedding: []float32{1, 0}, Metadata: map[string]any{"kind": "note"}},
		}))
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5, Filters: map[string]string{"kind": "doc"}})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "kept", matches[0].ID)
	})

	t.Run("ShouldCapResultsAtTopK", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "d", Embedding: []float32{1, 0}},
			{ID: "e", Embedding: []float32{0.9, 0.1}},
			{ID: "f", Embedding: []float32{0.8, 0.2}},
		}))
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 2})
		require.NoError(t, err)
		require.Len(t, matches, 2)
	})
}

func TestMemoryStoreDimension(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldFailUpsertWhenDimensionMismatch", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 4})
		err := store.Upsert(ctx, []Record{{ID: "bad", Embedding: []float32{1, 1, 1}}})
		require.ErrorIs(t, err, core.ErrDimensionMismatch)
		var dimErr *core.DimensionError
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, 4, dimErr.Want)
		assert.Equal(t, 3, dimErr.Got)
	})

	t.Run("ShouldFailUpsertWhenRecordIDIsBlank", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 3})
		err := store.Upsert(ctx, []Record{{ID: "  ", Embedding: []float32{1, 0, 0}}})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})

	t.Run("ShouldFailSearchWhenQueryDimensionMismatch", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "c", Embedding: []float32{1, 0}}}))
		_, err := store.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 1})
		require.ErrorIs(t, err, core.ErrDimensionMismatch)
	})

	t.Run("ShouldReportConfiguredDimension", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 7})
		assert.Equal(t, 7, store.Dimension())
	})
}

func TestMemoryStoreMutation(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldCopyEmbeddingsDefensively", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		embedding := []float32{1, 0}
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "a", Embedding: embedding}}))
		embedding[0] = 0
		embedding[1] = 1
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	})

	t.Run("ShouldKeepInsertionSlotOnUpdate", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "a", Embedding: []float32{1, 0}},
			{ID: "b", Embedding: []float32{1, 0}},
		}))
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}}}))
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 2})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "a", matches[0].ID)
		assert.Equal(t, "b", matches[1].ID)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("ShouldCountDeletedRecords", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "a", Embedding: []float32{1, 0}},
			{ID: "b", Embedding: []float32{0, 1}},
		}))
		removed, err := store.Delete(ctx, Filter{IDs: []string{"a", "missing"}})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		removed, err = store.Delete(ctx, Filter{IDs: []string{"a"}})
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("ShouldDeleteByMetadata", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "a", Embedding: []float32{1, 0}, Metadata: map[string]any{"group": "old"}},
			{ID: "b", Embedding: []float32{0, 1}, Metadata: map[string]any{"group": "new"}},
		}))
		removed, err := store.Delete(ctx, Filter{Metadata: map[string]string{"group": "old"}})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("ShouldClearAllRecords", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}}}))
		store.Clear()
		assert.Zero(t, store.Len())
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}
