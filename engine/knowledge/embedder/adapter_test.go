package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	dimension int
	calls     int
	err       error
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, s.dimension)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	vec := make([]float32, s.dimension)
	vec[0] = float32(len(text))
	return vec, nil
}

func testConfig() *Config {
	return &Config{
		ID:        "test",
		Provider:  ProviderOpenAI,
		Model:     "text-embedding-3-small",
		Dimension: 4,
		BatchSize: 8,
	}
}

func TestWrap(t *testing.T) {
	t.Run("ShouldRejectNilImplementation", func(t *testing.T) {
		_, err := Wrap(testConfig(), nil)
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectInvalidDimension", func(t *testing.T) {
		cfg := testConfig()
		cfg.Dimension = 0
		_, err := Wrap(cfg, &stubEmbedder{dimension: 4})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
}

func TestAdapterEmbed(t *testing.T) {
	ctx := context.Background()
	t.Run("ShouldEmbedDocumentsPositionally", func(t *testing.T) {
		adapter, err := Wrap(testConfig(), &stubEmbedder{dimension: 4})
		require.NoError(t, err)
		vectors, err := adapter.EmbedDocuments(ctx, []string{"a", "bb"})
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Equal(t, float32(1), vectors[0][0])
		assert.Equal(t, float32(2), vectors[1][0])
	})
	t.Run("ShouldFailWhenVectorDimensionMismatches", func(t *testing.T) {
		adapter, err := Wrap(testConfig(), &stubEmbedder{dimension: 3})
		require.NoError(t, err)
		_, err = adapter.EmbedQuery(ctx, "query")
		require.ErrorIs(t, err, core.ErrDimensionMismatch)
	})
	t.Run("ShouldWrapBackendErrors", func(t *testing.T) {
		backend := errors.New("boom")
		adapter, err := Wrap(testConfig(), &stubEmbedder{dimension: 4, err: backend})
		require.NoError(t, err)
		_, err = adapter.EmbedQuery(ctx, "query")
		require.ErrorIs(t, err, backend)
		var be *core.BackendError
		require.ErrorAs(t, err, &be)
	})
	t.Run("ShouldReturnNilForEmptyInput", func(t *testing.T) {
		adapter, err := Wrap(testConfig(), &stubEmbedder{dimension: 4})
		require.NoError(t, err)
		vectors, err := adapter.EmbedDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, vectors)
	})
}

func TestAdapterCache(t *testing.T) {
	ctx := context.Background()
	t.Run("ShouldServeRepeatQueriesFromCache", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 4}
		adapter, err := Wrap(testConfig(), stub)
		require.NoError(t, err)
		require.NoError(t, adapter.EnableCache(16))
		first, err := adapter.EmbedQuery(ctx, "same text")
		require.NoError(t, err)
		second, err := adapter.EmbedQuery(ctx, "same text")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, stub.calls)
	})
	t.Run("ShouldOnlyEmbedMissingDocuments", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 4}
		adapter, err := Wrap(testConfig(), stub)
		require.NoError(t, err)
		require.NoError(t, adapter.EnableCache(16))
		_, err = adapter.EmbedDocuments(ctx, []string{"one", "two"})
		require.NoError(t, err)
		vectors, err := adapter.EmbedDocuments(ctx, []string{"one", "two", "three"})
		require.NoError(t, err)
		require.Len(t, vectors, 3)
		assert.Equal(t, 2, stub.calls)
	})
	t.Run("ShouldRejectNonPositiveCacheSize", func(t *testing.T) {
		adapter, err := Wrap(testConfig(), &stubEmbedder{dimension: 4})
		require.NoError(t, err)
		require.ErrorIs(t, adapter.EnableCache(0), core.ErrInvalidArgument)
	})
	t.Run("ShouldIsolateCachedVectorsFromCallers", func(t *testing.T) {
		adapter, err := Wrap(testConfig(), &stubEmbedder{dimension: 4})
		require.NoError(t, err)
		require.NoError(t, adapter.EnableCache(16))
		first, err := adapter.EmbedQuery(ctx, "mutate me")
		require.NoError(t, err)
		first[0] = 999
		second, err := adapter.EmbedQuery(ctx, "mutate me")
		require.NoError(t, err)
		assert.NotEqual(t, float32(999), second[0])
	})
}
