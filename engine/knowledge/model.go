package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ragforge/ragforge/engine/core"
)

// Content is the payload carried by a document. Implementations are
// TextContent, ImageContent, and BinaryContent.
type Content interface {
	// EmbeddableText returns the textual representation used for embedding.
	// Non-textual content returns an empty string.
	EmbeddableText() string
}

// TextContent holds plain text.
type TextContent struct {
	Text string
}

func (c TextContent) EmbeddableText() string { return c.Text }

// ImageContent references an image by URL with an optional caption used for
// embedding.
type ImageContent struct {
	URL     string
	Caption string
}

func (c ImageContent) EmbeddableText() string { return c.Caption }

// BinaryContent holds opaque bytes alongside a MIME type.
type BinaryContent struct {
	MIMEType string
	Data     []byte
}

func (c BinaryContent) EmbeddableText() string { return "" }

// Metadata describes a document's position within its source.
type Metadata struct {
	// DocID groups all chunks produced from the same source document.
	DocID string
	// ChunkIndex is the zero-based position of the chunk within the source.
	ChunkIndex int
	// ChunkCount is the total number of chunks produced from the source.
	ChunkCount int
	// Extra carries arbitrary user-supplied attributes.
	Extra map[string]any
}

// Document is the unit stored in and retrieved from a knowledge source.
type Document struct {
	ID        string
	Content   Content
	Metadata  Metadata
	Embedding []float32
	// Score is the similarity assigned during retrieval. It is nil for
	// documents that have not been scored.
	Score *float64
}

// NewDocument builds a document whose ID is derived from its content, so the
// same text always maps to the same identity.
func NewDocument(content Content, meta Metadata) (*Document, error) {
	if content == nil {
		return nil, fmt.Errorf("%w: document content is required", core.ErrInvalidArgument)
	}
	text := content.EmbeddableText()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document content has no embeddable text", core.ErrInvalidArgument)
	}
	if meta.ChunkIndex < 0 {
		return nil, fmt.Errorf("%w: chunk index cannot be negative", core.ErrInvalidArgument)
	}
	if meta.ChunkCount < 0 {
		return nil, fmt.Errorf("%w: chunk count cannot be negative", core.ErrInvalidArgument)
	}
	// A zero-value count means the document was never chunked.
	if meta.ChunkCount == 0 {
		meta.ChunkCount = 1
	}
	if meta.ChunkIndex >= meta.ChunkCount {
		return nil, fmt.Errorf(
			"%w: chunk index %d is out of range for %d chunks",
			core.ErrInvalidArgument, meta.ChunkIndex, meta.ChunkCount,
		)
	}
	return &Document{
		ID:       HashContent(text),
		Content:  content,
		Metadata: meta,
	}, nil
}

// HashContent derives the canonical document ID for a piece of text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Text returns the embeddable text of the document, or an empty string when
// the document carries no content.
func (d *Document) Text() string {
	if d == nil || d.Content == nil {
		return ""
	}
	return d.Content.EmbeddableText()
}

// WithScore returns a copy of the document carrying the given score. The
// receiver is left untouched.
func (d *Document) WithScore(score float64) *Document {
	clone := *d
	clone.Embedding = append([]float32(nil), d.Embedding...)
	clone.Metadata.Extra = core.CloneMap(d.Metadata.Extra)
	clone.Score = &score
	return &clone
}

// ScoreValue returns the score or zero when the document is unscored.
func (d *Document) ScoreValue() float64 {
	if d == nil || d.Score == nil {
		return 0
	}
	return *d.Score
}
