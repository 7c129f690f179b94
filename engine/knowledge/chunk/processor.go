package chunk

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"github.com/ragforge/ragforge/engine/core"
	"github.com/ragforge/ragforge/engine/knowledge"
	"github.com/tmc/langchaingo/textsplitter"
)

const defaultEncoding = "cl100k_base"

var (
	paragraphSeparators = []string{"\n\n", "\n", " ", ""}
	sentenceSeparators  = []string{". ", "! ", "? ", "\n", " ", ""}
)

// Processor splits source text into embeddable documents.
type Processor struct {
	settings Settings
	encoding *tiktoken.Tiktoken
}

// NewProcessor builds a processor with sanitized defaults.
func NewProcessor(settings Settings) (*Processor, error) {
	if settings.Strategy == "" {
		settings.Strategy = StrategyParagraph
	}
	if settings.Size == 0 {
		settings.Size = DefaultSize
		if settings.Overlap == 0 {
			settings.Overlap = DefaultOverlap
		}
	}
	if settings.Size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be greater than zero", core.ErrInvalidArgument)
	}
	if settings.Overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap cannot be negative", core.ErrInvalidArgument)
	}
	if settings.Overlap >= settings.Size {
		return nil, fmt.Errorf(
			"%w: chunk overlap %d must be smaller than size %d",
			core.ErrInvalidArgument, settings.Overlap, settings.Size,
		)
	}
	switch settings.Strategy {
	case StrategyParagraph, StrategyToken, StrategySentence, StrategyFixed:
	default:
		return nil, fmt.Errorf("%w: unknown chunk strategy %q", core.ErrInvalidArgument, settings.Strategy)
	}
	p := &Processor{settings: settings}
	if settings.Strategy == StrategyToken {
		name := settings.Encoding
		if name == "" {
			name = defaultEncoding
		}
		enc, err := tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("chunk: load encoding %q: %w", name, err)
		}
		p.encoding = enc
	}
	return p, nil
}

// Process splits text into documents sharing a source ID. Every resulting
// document records its position and the total chunk count. A blank docID gets
// a generated one.
func (p *Processor) Process(docID, text string) ([]*knowledge.Document, error) {
	if strings.TrimSpace(docID) == "" {
		docID = uuid.NewString()
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	segments, err := p.split(text)
	if err != nil {
		return nil, err
	}
	kept := make([]string, 0, len(segments))
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		kept = append(kept, segment)
	}
	docs := make([]*knowledge.Document, 0, len(kept))
	for idx, segment := range kept {
		doc, err := knowledge.NewDocument(knowledge.TextContent{Text: segment}, knowledge.Metadata{
			DocID:      docID,
			ChunkIndex: idx,
			ChunkCount: len(kept),
		})
		if err != nil {
			return nil, fmt.Errorf("chunk: build document %d of %s: %w", idx, docID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (p *Processor) split(text string) ([]string, error) {
	switch p.settings.Strategy {
	case StrategyFixed:
		return p.splitFixed(text), nil
	case StrategyToken:
		return p.splitTokens(text)
	case StrategySentence:
		return p.splitRecursive(text, sentenceSeparators)
	default:
		return p.splitRecursive(text, paragraphSeparators)
	}
}

// splitFixed slices rune windows of exactly Size characters, advancing by
// Size-Overlap so consecutive chunks share Overlap characters.
func (p *Processor) splitFixed(text string) []string {
	runes := []rune(text)
	size := p.settings.Size
	stride := size - p.settings.Overlap
	segments := make([]string, 0, (len(runes)+stride-1)/stride)
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return segments
}

func (p *Processor) splitTokens(text string) ([]string, error) {
	tokens := p.encoding.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}
	size := p.settings.Size
	stride := size - p.settings.Overlap
	segments := make([]string, 0, (len(tokens)+stride-1)/stride)
	for start := 0; start < len(tokens); start += stride {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		segments = append(segments, p.encoding.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return segments, nil
}

func (p *Processor) splitRecursive(text string, separators []string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(p.settings.Size),
		textsplitter.WithChunkOverlap(p.settings.Overlap),
		textsplitter.WithSeparators(separators),
	)
	segments, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("chunk: split text: %w", err)
	}
	return segments, nil
}
