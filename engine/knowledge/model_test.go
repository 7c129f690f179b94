package knowledge

import (
	"testing"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocument(t *testing.T) {
	t.Run("ShouldDeriveIDFromContent", func(t *testing.T) {
		first, err := NewDocument(TextContent{Text: "hello world"}, Metadata{})
		require.NoError(t, err)
		second, err := NewDocument(TextContent{Text: "hello world"}, Metadata{DocID: "other"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, first.ID, 64)
	})
	t.Run("ShouldRejectNilContent", func(t *testing.T) {
		_, err := NewDocument(nil, Metadata{})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectBlankText", func(t *testing.T) {
		_, err := NewDocument(TextContent{Text: "   "}, Metadata{})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectNegativeChunkIndex", func(t *testing.T) {
		_, err := NewDocument(TextContent{Text: "chunk"}, Metadata{ChunkIndex: -1})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectChunkIndexBeyondCount", func(t *testing.T) {
		_, err := NewDocument(TextContent{Text: "chunk"}, Metadata{ChunkIndex: 5, ChunkCount: 2})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectNegativeChunkCount", func(t *testing.T) {
		_, err := NewDocument(TextContent{Text: "chunk"}, Metadata{ChunkCount: -1})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
	t.Run("ShouldNormalizeZeroChunkCount", func(t *testing.T) {
		doc, err := NewDocument(TextContent{Text: "chunk"}, Metadata{})
		require.NoError(t, err)
		assert.Equal(t, 1, doc.Metadata.ChunkCount)
	})
	t.Run("ShouldUseCaptionForImageContent", func(t *testing.T) {
		doc, err := NewDocument(ImageContent{URL: "https://example.com/a.png", Caption: "a chart"}, Metadata{})
		require.NoError(t, err)
		assert.Equal(t, "a chart", doc.Text())
	})
	t.Run("ShouldRejectBinaryContentWithoutText", func(t *testing.T) {
		_, err := NewDocument(BinaryContent{MIMEType: "application/pdf", Data: []byte{1, 2}}, Metadata{})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
}

func TestDocumentWithScore(t *testing.T) {
	t.Run("ShouldNotMutateReceiver", func(t *testing.T) {
		doc, err := NewDocument(TextContent{Text: "scored"}, Metadata{Extra: map[string]any{"k": "v"}})
		require.NoError(t, err)
		doc.Embedding = []float32{1, 2, 3}
		scored := doc.WithScore(0.75)
		require.NotNil(t, scored.Score)
		assert.InDelta(t, 0.75, *scored.Score, 1e-9)
		assert.Nil(t, doc.Score)
		scored.Embedding[0] = 99
		assert.Equal(t, float32(1), doc.Embedding[0])
		scored.Metadata.Extra["k"] = "changed"
		assert.Equal(t, "v", doc.Metadata.Extra["k"])
	})
	t.Run("ShouldReportZeroForUnscored", func(t *testing.T) {
		doc, err := NewDocument(TextContent{Text: "plain"}, Metadata{})
		require.NoError(t, err)
		assert.Zero(t, doc.ScoreValue())
	})
}

func TestRetrieveConfig(t *testing.T) {
	t.Run("ShouldProvideDefaults", func(t *testing.T) {
		cfg := DefaultRetrieveConfig()
		assert.Equal(t, 5, cfg.Limit)
		assert.InDelta(t, 0.5, cfg.ScoreThreshold, 1e-9)
	})
	t.Run("ShouldRejectNonPositiveLimit", func(t *testing.T) {
		cfg := RetrieveConfig{Limit: 0}
		require.ErrorIs(t, cfg.Validate(), core.ErrInvalidArgument)
	})
	t.Run("ShouldRejectOutOfRangeScoreThreshold", func(t *testing.T) {
		require.ErrorIs(t, RetrieveConfig{Limit: 5, ScoreThreshold: -0.1}.Validate(), core.ErrInvalidArgument)
		require.ErrorIs(t, RetrieveConfig{Limit: 5, ScoreThreshold: 1.1}.Validate(), core.ErrInvalidArgument)
	})
	t.Run("ShouldAcceptBoundaryThresholds", func(t *testing.T) {
		require.NoError(t, RetrieveConfig{Limit: 5, ScoreThreshold: 0}.Validate())
		require.NoError(t, RetrieveConfig{Limit: 5, ScoreThreshold: 1}.Validate())
	})
}
