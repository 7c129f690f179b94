package knowledge

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce        sync.Once
	metricsMu          sync.Mutex
	metricsInitErr     error
	ingestDurationHist metric.Float64Histogram
	chunkCounter       metric.Int64Counter
	queryLatencyHist   metric.Float64Histogram
	skippedDocCounter  metric.Int64Counter
)

func RecordIngestDuration(ctx context.Context, source string, d time.Duration) {
	if err := ensureMetrics(); err != nil || ingestDurationHist == nil {
		return
	}
	ingestDurationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

func RecordIngestChunks(ctx context.Context, source string, chunks int) {
	if chunks <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || chunkCounter == nil {
		return
	}
	chunkCounter.Add(ctx, int64(chunks), metric.WithAttributes(attribute.String("source", source)))
}

func RecordQueryLatency(ctx context.Context, source string, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

func RecordSkippedDocuments(ctx context.Context, source string, count int) {
	if count <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil || skippedDocCounter == nil {
		return
	}
	skippedDocCounter.Add(ctx, int64(count), metric.WithAttributes(attribute.String("source", source)))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	ingestDurationHist = nil
	chunkCounter = nil
	queryLatencyHist = nil
	skippedDocCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragforge.knowledge")
		metricsInitErr = initMetrics(meter)
	})
	return metricsInitErr
}

func initMetrics(meter metric.Meter) error {
	var err error
	ingestDurationHist, err = meter.Float64Histogram(
		"ragforge_knowledge_ingest_duration_seconds",
		metric.WithDescription("Latency of knowledge source ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return err
	}
	chunkCounter, err = meter.Int64Counter(
		"ragforge_knowledge_chunks_total",
		metric.WithDescription("Number of chunks persisted per knowledge source ingestion"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	queryLatencyHist, err = meter.Float64Histogram(
		"ragforge_knowledge_query_latency_seconds",
		metric.WithDescription("Latency of knowledge source retrieval queries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}
	skippedDocCounter, err = meter.Int64Counter(
		"ragforge_knowledge_skipped_documents_total",
		metric.WithDescription("Number of documents skipped during ingestion due to embedding failures"),
		metric.WithUnit("1"),
	)
	return err
}
