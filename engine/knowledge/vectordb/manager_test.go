package vectordb

import (
	"context"
	"testing"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAcquireShared(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldReuseStoreForSameConfig", func(t *testing.T) {
		manager := NewManager()
		cfg := &Config{ID: "shared", Provider: ProviderMemory, Dimension: 2}
		first, release1, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		second, release2, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		assert.Same(t, first, second)
		require.NoError(t, release1(ctx))
		require.NoError(t, release2(ctx))
	})

	t.Run("ShouldRejectConflictingConfigForSameID", func(t *testing.T) {
		manager := NewManager()
		_, release, err := manager.AcquireShared(ctx, &Config{ID: "conflict", Provider: ProviderMemory, Dimension: 2})
		require.NoError(t, err)
		defer func() { require.NoError(t, release(ctx)) }()
		_, _, err = manager.AcquireShared(ctx, &Config{ID: "conflict", Provider: ProviderMemory, Dimension: 3})
		require.ErrorIs(t, err, core.ErrInvalidState)
	})

	t.Run("ShouldRecreateStoreAfterFullRelease", func(t *testing.T) {
		manager := NewManager()
		cfg := &Config{ID: "cycle", Provider: ProviderMemory, Dimension: 2}
		first, release, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		require.NoError(t, release(ctx))
		second, release2, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		defer func() { require.NoError(t, release2(ctx)) }()
		assert.NotSame(t, first, second)
	})

	t.Run("ShouldShareDataThroughSharedStore", func(t *testing.T) {
		manager := NewManager()
		cfg := &Config{ID: "data", Provider: ProviderMemory, Dimension: 2}
		writer, releaseW, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		defer func() { require.NoError(t, releaseW(ctx)) }()
		reader, releaseR, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		defer func() { require.NoError(t, releaseR(ctx)) }()
		require.NoError(t, writer.Upsert(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}}}))
		matches, err := reader.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
	})
}
