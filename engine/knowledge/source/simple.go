package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/ragforge/ragforge/engine/knowledge"
	"github.com/ragforge/ragforge/engine/knowledge/embedder"
	"github.com/ragforge/ragforge/engine/knowledge/vectordb"
	"github.com/ragforge/ragforge/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	metaDocID      = "doc_id"
	metaChunkIndex = "chunk_index"
	metaChunkCount = "chunk_count"
)

// SkipFunc is invoked for every document skipped during AddDocuments.
type SkipFunc func(doc *knowledge.Document, err error)

// Simple is a single-backend knowledge source: one embedder, one vector
// store. It implements knowledge.Base.
type Simple struct {
	id       string
	embedder embedder.Embedder
	store    vectordb.Store
	onSkip   SkipFunc
	tracer   trace.Tracer
}

// Option customizes a Simple source.
type Option func(*Simple)

// WithOnSkip installs a callback observing skipped documents. The default
// logs the skip and moves on.
func WithOnSkip(fn SkipFunc) Option {
	return func(s *Simple) {
		if fn != nil {
			s.onSkip = fn
		}
	}
}

// NewSimple builds a knowledge source over the given embedder and store. The
// embedder and store must agree on vector dimension.
func NewSimple(id string, emb embedder.Embedder, store vectordb.Store, opts ...Option) (*Simple, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: knowledge source id is required", core.ErrInvalidArgument)
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: knowledge source %q: embedder is required", core.ErrInvalidArgument, id)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: knowledge source %q: vector store is required", core.ErrInvalidArgument, id)
	}
	if emb.Dimension() != store.Dimension() {
		return nil, fmt.Errorf(
			"knowledge source %q: embedder and store disagree: %w",
			id, core.NewDimensionError(store.Dimension(), emb.Dimension()),
		)
	}
	s := &Simple{
		id:       id,
		embedder: emb,
		store:    store,
		tracer:   otel.Tracer("ragforge.knowledge.source"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the source identifier.
func (s *Simple) ID() string {
	return s.id
}

// AddDocuments embeds and persists documents. A document whose embedding
// fails is reported to the skip callback and left out; the rest of the batch
// still lands. Only structural failures (nil document, store errors) abort
// the call.
func (s *Simple) AddDocuments(ctx context.Context, docs []*knowledge.Document) error {
	if docs == nil {
		return fmt.Errorf("%w: document list is nil", core.ErrInvalidArgument)
	}
	if len(docs) == 0 {
		return nil
	}
	log := logger.FromContext(ctx).With("source_id", s.id)
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ragforge.knowledge.add_documents", trace.WithAttributes(
		attribute.String("source_id", s.id),
		attribute.Int("documents", len(docs)),
	))
	defer span.End()
	for i, doc := range docs {
		if doc == nil {
			err := fmt.Errorf("%w: document %d is nil", core.ErrInvalidArgument, i)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	embeddable, skipped := s.partitionEmbeddable(ctx, docs)
	vectors, failed := s.embedBatch(ctx, embeddable)
	skipped += failed
	records := make([]vectordb.Record, 0, len(embeddable))
	for i, doc := range embeddable {
		if vectors[i] == nil {
			continue
		}
		doc.Embedding = append([]float32(nil), vectors[i]...)
		records = append(records, vectordb.Record{
			ID:        doc.ID,
			Text:      doc.Text(),
			Embedding: vectors[i],
			Metadata:  payloadMetadata(doc),
		})
	}
	if len(records) > 0 {
		if err := s.store.Upsert(ctx, records); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("knowledge source %q: persist documents: %w", s.id, err)
		}
	}
	knowledge.RecordIngestDuration(ctx, s.id, time.Since(start))
	knowledge.RecordIngestChunks(ctx, s.id, len(records))
	knowledge.RecordSkippedDocuments(ctx, s.id, skipped)
	span.SetAttributes(attribute.Int("stored", len(records)), attribute.Int("skipped", skipped))
	log.Info("Documents added", "stored", len(records), "skipped", skipped)
	return nil
}

// Retrieve embeds the query and returns matching documents ordered by
// descending score. A blank query short-circuits to an empty result without
// touching the embedder or the store.
func (s *Simple) Retrieve(
	ctx context.Context,
	query string,
	cfg knowledge.RetrieveConfig,
) (docs []*knowledge.Document, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("knowledge source %q: %w", s.id, err)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	log := logger.FromContext(ctx).With("source_id", s.id)
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ragforge.knowledge.retrieve", trace.WithAttributes(
		attribute.String("source_id", s.id),
		attribute.Int("limit", cfg.Limit),
		attribute.Float64("score_threshold", cfg.ScoreThreshold),
	))
	defer func() {
		knowledge.RecordQueryLatency(ctx, s.id, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("results", len(docs)))
		}
		span.End()
	}()
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge source %q: embed query: %w", s.id, err)
	}
	matches, err := s.store.Search(ctx, vector, vectordb.SearchOptions{
		TopK:     cfg.Limit,
		MinScore: vectordb.Threshold(cfg.ScoreThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge source %q: search: %w", s.id, err)
	}
	docs = make([]*knowledge.Document, 0, len(matches))
	for i := range matches {
		docs = append(docs, hydrateMatch(&matches[i]))
	}
	log.Debug("Knowledge retrieval executed", "query_length", len(query), "results", len(docs))
	return docs, nil
}

// partitionEmbeddable separates documents carrying embeddable text from the
// ones that must be skipped outright.
func (s *Simple) partitionEmbeddable(
	ctx context.Context,
	docs []*knowledge.Document,
) ([]*knowledge.Document, int) {
	embeddable := make([]*knowledge.Document, 0, len(docs))
	skipped := 0
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text()) == "" {
			s.reportSkip(ctx, doc, fmt.Errorf("%w: document has no embeddable text", core.ErrInvalidArgument))
			skipped++
			continue
		}
		embeddable = append(embeddable, doc)
	}
	return embeddable, skipped
}

// embedBatch embeds all texts in one call; when the batch fails it falls
// back to per-document embedding so one poison document cannot sink the
// whole batch. Documents that still fail are reported to the skip callback
// and never abort the call. The returned slice is positionally aligned with
// docs, nil marking a skipped entry.
func (s *Simple) embedBatch(
	ctx context.Context,
	docs []*knowledge.Document,
) ([][]float32, int) {
	if len(docs) == 0 {
		return nil, 0
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text()
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err == nil {
		return vectors, 0
	}
	vectors = make([][]float32, len(docs))
	failed := 0
	for i, doc := range docs {
		vector, embedErr := s.embedder.EmbedQuery(ctx, texts[i])
		if embedErr != nil {
			s.reportSkip(ctx, doc, embedErr)
			failed++
			continue
		}
		vectors[i] = vector
	}
	return vectors, failed
}

func (s *Simple) reportSkip(ctx context.Context, doc *knowledge.Document, err error) {
	if s.onSkip != nil {
		s.onSkip(doc, err)
		return
	}
	logger.FromContext(ctx).Warn("Skipping document", "source_id", s.id, "doc_id", doc.Metadata.DocID, "error", err)
}

func payloadMetadata(doc *knowledge.Document) map[string]any {
	meta := core.CloneMap(doc.Metadata.Extra)
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[metaDocID] = doc.Metadata.DocID
	meta[metaChunkIndex] = doc.Metadata.ChunkIndex
	meta[metaChunkCount] = doc.Metadata.ChunkCount
	return meta
}

// hydrateMatch rebuilds a full document from the stored payload.
func hydrateMatch(match *vectordb.Match) *knowledge.Document {
	meta := core.CloneMap(match.Metadata)
	doc := &knowledge.Document{
		ID:      match.ID,
		Content: knowledge.TextContent{Text: match.Text},
	}
	if meta != nil {
		if raw, ok := meta[metaDocID]; ok {
			doc.Metadata.DocID = fmt.Sprint(raw)
			delete(meta, metaDocID)
		}
		if idx, ok := intFromAny(meta[metaChunkIndex]); ok {
			doc.Metadata.ChunkIndex = idx
			delete(meta, metaChunkIndex)
		}
		if count, ok := intFromAny(meta[metaChunkCount]); ok {
			doc.Metadata.ChunkCount = count
			delete(meta, metaChunkCount)
		}
		if len(meta) > 0 {
			doc.Metadata.Extra = meta
		}
	}
	score := match.Score
	doc.Score = &score
	return doc
}

// intFromAny handles both native ints and the float64 values external
// backends produce when round-tripping metadata through JSON.
func intFromAny(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}
