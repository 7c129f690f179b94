package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/ragforge/ragforge/engine/knowledge"
	"github.com/ragforge/ragforge/engine/knowledge/chunk"
	"github.com/ragforge/ragforge/engine/knowledge/embedder"
	"github.com/ragforge/ragforge/engine/knowledge/vectordb"
	appconfig "github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/logger"
)

const (
	metaDocID      = "doc_id"
	metaChunkIndex = "chunk_index"
	metaChunkCount = "chunk_count"
)

// Source is one raw document handed to the pipeline. A blank DocID gets a
// generated identifier during chunking.
type Source struct {
	DocID    string
	Text     string
	Metadata map[string]any
}

// Pipeline chunks raw documents, embeds the chunks in batches, and persists
// the resulting vectors. Embedding and persistence calls retry with
// exponential backoff.
type Pipeline struct {
	sourceID string
	chunker  *chunk.Processor
	embedder embedder.Embedder
	store    vectordb.Store
	options  Options
}

// Result summarizes one pipeline run.
type Result struct {
	SourceID  string
	Documents int
	Chunks    int
	Skipped   int
	Persisted int
}

func NewPipeline(
	sourceID string,
	settings chunk.Settings,
	emb embedder.Embedder,
	store vectordb.Store,
	opts Options,
) (*Pipeline, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, fmt.Errorf("ingest: source id is required: %w", core.ErrInvalidArgument)
	}
	if emb == nil {
		return nil, fmt.Errorf("ingest: embedder implementation is required: %w", core.ErrInvalidArgument)
	}
	if store == nil {
		return nil, fmt.Errorf("ingest: vector store is required: %w", core.ErrInvalidArgument)
	}
	if emb.Dimension() != store.Dimension() {
		return nil, fmt.Errorf("ingest: %w", core.NewDimensionError(store.Dimension(), emb.Dimension()))
	}
	chunker, err := chunk.NewProcessor(settings)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		sourceID: sourceID,
		chunker:  chunker,
		embedder: emb,
		store:    store,
		options:  opts,
	}, nil
}

func (p *Pipeline) Run(ctx context.Context, sources []Source) (*Result, error) {
	strategy := p.options.normalizedStrategy()
	if strategy != StrategyUpsert && strategy != StrategyReplace {
		return nil, fmt.Errorf("ingest: strategy %q not supported: %w", strategy, core.ErrInvalidArgument)
	}
	started := time.Now()
	result := &Result{SourceID: p.sourceID}
	if len(sources) == 0 {
		return result, nil
	}
	chunks, skipped, err := p.chunkSources(sources)
	if err != nil {
		return nil, err
	}
	result.Documents = len(sources) - skipped
	result.Skipped = skipped
	result.Chunks = len(chunks)
	if skipped > 0 {
		knowledge.RecordSkippedDocuments(ctx, p.sourceID, skipped)
	}
	if len(chunks) == 0 {
		return result, nil
	}
	if strategy == StrategyReplace {
		if err := p.deleteExistingRecords(ctx, chunks); err != nil {
			return nil, err
		}
	}
	persisted, err := p.persistChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	result.Persisted = persisted
	knowledge.RecordIngestDuration(ctx, p.sourceID, time.Since(started))
	knowledge.RecordIngestChunks(ctx, p.sourceID, len(chunks))
	logger.FromContext(ctx).Debug(
		"Knowledge ingestion completed",
		"source_id", p.sourceID,
		"documents", result.Documents,
		"chunks", result.Chunks,
		"skipped", result.Skipped,
		"persisted", result.Persisted,
	)
	return result, nil
}

func (p *Pipeline) chunkSources(sources []Source) ([]*knowledge.Document, int, error) {
	chunks := make([]*knowledge.Document, 0, len(sources))
	skipped := 0
	for i := range sources {
		docs, err := p.chunker.Process(sources[i].DocID, sources[i].Text)
		if err != nil {
			return nil, 0, fmt.Errorf("ingest: chunk document %q: %w", sources[i].DocID, err)
		}
		if len(docs) == 0 {
			skipped++
			continue
		}
		for _, doc := range docs {
			if len(sources[i].Metadata) > 0 {
				doc.Metadata.Extra = mergeMetadata(doc.Metadata.Extra, sources[i].Metadata)
			}
			chunks = append(chunks, doc)
		}
	}
	return chunks, skipped, nil
}

func (p *Pipeline) persistChunks(ctx context.Context, chunks []*knowledge.Document) (int, error) {
	batchSize := p.batchSize(ctx)
	total := 0
	for start := 0; start < len(chunks); start += batchSize {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]
		vectors, err := p.embedBatch(ctx, batch)
		if err != nil {
			return 0, err
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("ingest: embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		records := make([]vectordb.Record, len(batch))
		for i := range batch {
			records[i] = vectordb.Record{
				ID:        batch[i].ID,
				Text:      batch[i].Text(),
				Embedding: vectors[i],
				Metadata:  p.recordMetadata(batch[i]),
			}
		}
		if err := p.upsertBatch(ctx, records); err != nil {
			return 0, err
		}
		total += len(records)
	}
	return total, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, batch []*knowledge.Document) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text()
	}
	var out [][]float32
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		vectors, embedErr := p.embedder.EmbedDocuments(ctx, texts)
		if embedErr != nil {
			if errors.Is(embedErr, core.ErrDimensionMismatch) || errors.Is(embedErr, core.ErrInvalidArgument) {
				return embedErr
			}
			return retry.RetryableError(embedErr)
		}
		out = vectors
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: embed documents: %w", err)
	}
	return out, nil
}

func (p *Pipeline) upsertBatch(ctx context.Context, records []vectordb.Record) error {
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		upsertErr := p.store.Upsert(ctx, records)
		if upsertErr != nil {
			if errors.Is(upsertErr, core.ErrDimensionMismatch) || errors.Is(upsertErr, core.ErrInvalidArgument) {
				return upsertErr
			}
			return retry.RetryableError(upsertErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest: persist vectors: %w", err)
	}
	return nil
}

func (p *Pipeline) backoff() retry.Backoff {
	exponential := retry.NewExponential(p.options.backoffBase())
	exponential = retry.WithMaxDuration(p.options.backoffMax(), exponential)
	maxRetries := uint64(p.options.retryAttempts()) // #nosec G115 -- attempts sanitized in retryAttempts
	if p.options.RetryJitter {
		return retry.WithMaxRetries(maxRetries, retry.WithJitter(50*time.Millisecond, exponential))
	}
	return retry.WithMaxRetries(maxRetries, exponential)
}

func (p *Pipeline) batchSize(ctx context.Context) int {
	if p.options.BatchSize > 0 {
		return p.options.BatchSize
	}
	if size := appconfig.FromContext(ctx).Knowledge.EmbedderBatchSize; size > 0 {
		return size
	}
	return 1
}

func (p *Pipeline) recordMetadata(doc *knowledge.Document) map[string]any {
	meta := core.CloneMap(doc.Metadata.Extra)
	if meta == nil {
		meta = make(map[string]any, len(p.options.Metadata)+3)
	}
	for k, v := range p.options.Metadata {
		meta[k] = v
	}
	meta[metaDocID] = doc.Metadata.DocID
	meta[metaChunkIndex] = doc.Metadata.ChunkIndex
	meta[metaChunkCount] = doc.Metadata.ChunkCount
	return meta
}

// deleteExistingRecords clears prior chunks for every document about to be
// rewritten so stale chunk tails do not survive a shrinking document.
func (p *Pipeline) deleteExistingRecords(ctx context.Context, chunks []*knowledge.Document) error {
	seen := make(map[string]struct{}, len(chunks))
	for _, doc := range chunks {
		docID := doc.Metadata.DocID
		if docID == "" {
			continue
		}
		if _, ok := seen[docID]; ok {
			continue
		}
		seen[docID] = struct{}{}
		filter := vectordb.Filter{Metadata: map[string]string{metaDocID: docID}}
		if _, err := p.store.Delete(ctx, filter); err != nil {
			return fmt.Errorf("ingest: delete existing records for %q: %w", docID, err)
		}
	}
	return nil
}

func mergeMetadata(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	return dst
}
