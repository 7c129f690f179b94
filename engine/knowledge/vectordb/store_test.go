package vectordb

import (
	"context"
	"testing"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldBuildMemoryStore", func(t *testing.T) {
		store, err := New(ctx, &Config{ID: "mem", Provider: ProviderMemory, Dimension: 3})
		require.NoError(t, err)
		assert.Equal(t, 3, store.Dimension())
	})
	t.Run("ShouldRejectNilConfig", func(t *testing.T) {
		_, err := New(ctx, nil)
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectMissingID", func(t *testing.T) {
		_, err := New(ctx, &Config{Provider: ProviderMemory, Dimension: 3})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectUnknownProvider", func(t *testing.T) {
		_, err := New(ctx, &Config{ID: "x", Provider: "mystery", Dimension: 3})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectNonPositiveDimension", func(t *testing.T) {
		_, err := New(ctx, &Config{ID: "x", Provider: ProviderMemory})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRequirePathForFilesystem", func(t *testing.T) {
		_, err := New(ctx, &Config{ID: "x", Provider: ProviderFilesystem, Dimension: 3})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRequireDSNForNetworkedProviders", func(t *testing.T) {
		_, err := New(ctx, &Config{ID: "x", Provider: ProviderQdrant, Dimension: 3})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
}
