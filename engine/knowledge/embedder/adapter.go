package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ragforge/ragforge/engine/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Adapter wraps a langchaingo embedder implementation and augments error
// reporting with the configured ID.
type Adapter struct {
	id        string
	provider  Provider
	model     string
	dimension int
	batchSize int
	impl      embeddings.Embedder
	cacheMu   sync.Mutex
	cache     *lru.Cache[string, []float32]
}

// New constructs a provider-backed embedder adapter.
func New(ctx context.Context, cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: embedder config is required", core.ErrInvalidArgument)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	options := []embeddings.Option{
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(cfg.StripNewLines),
	}
	impl, err := buildProviderEmbedder(ctx, cfg, options...)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		id:        cfg.ID,
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		impl:      impl,
	}, nil
}

// Wrap constructs an adapter around an existing langchaingo embedder.
func Wrap(cfg *Config, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: embedder config is required", core.ErrInvalidArgument)
	}
	if impl == nil {
		return nil, fmt.Errorf("%w: embedder %q: implementation is required", core.ErrInvalidArgument, cfg.ID)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Adapter{
		id:        cfg.ID,
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		impl:      impl,
	}, nil
}

// Dimension returns the configured vector dimension.
func (a *Adapter) Dimension() int {
	return a.dimension
}

// Model returns the configured model name.
func (a *Adapter) Model() string {
	return a.model
}

// BatchSize returns the configured batch size.
func (a *Adapter) BatchSize() int {
	return a.batchSize
}

// EnableCache initializes an LRU cache keyed by content hash.
func (a *Adapter) EnableCache(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: embedder %q: cache size must be greater than zero", core.ErrInvalidArgument, a.id)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder %q: init cache: %w", a.id, err)
	}
	a.cacheMu.Lock()
	a.cache = cache
	a.cacheMu.Unlock()
	return nil
}

// EmbedDocuments embeds texts in configured batches, consulting the cache
// when enabled. The result slice is positionally aligned with texts.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	cache := a.getCache()
	if cache == nil {
		vectors, err := a.impl.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, a.withContext(err)
		}
		if err := a.checkVectors(vectors, len(texts)); err != nil {
			return nil, err
		}
		return vectors, nil
	}
	return a.cachedEmbedDocuments(ctx, cache, texts)
}

// EmbedQuery embeds a single query string.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	cache := a.getCache()
	if cache != nil {
		if vector, ok := a.lookupCache(cache, text); ok {
			return vector, nil
		}
	}
	vector, err := a.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, a.withContext(err)
	}
	if len(vector) != a.dimension {
		return nil, fmt.Errorf("embedder %q: %w", a.id, core.NewDimensionError(a.dimension, len(vector)))
	}
	if cache != nil {
		a.storeCache(cache, text, vector)
		return cloneVector(vector), nil
	}
	return vector, nil
}

func (a *Adapter) cachedEmbedDocuments(
	ctx context.Context,
	cache *lru.Cache[string, []float32],
	texts []string,
) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missingIdxMap := make(map[string][]int)
	for i := range texts {
		if vector, ok := a.lookupCache(cache, texts[i]); ok {
			results[i] = vector
			continue
		}
		missingIdxMap[texts[i]] = append(missingIdxMap[texts[i]], i)
	}
	if len(missingIdxMap) == 0 {
		return results, nil
	}
	uniqueMissing := make([]string, 0, len(missingIdxMap))
	for text := range missingIdxMap {
		uniqueMissing = append(uniqueMissing, text)
	}
	embedded, err := a.impl.EmbedDocuments(ctx, uniqueMissing)
	if err != nil {
		return nil, a.withContext(err)
	}
	if err := a.checkVectors(embedded, len(uniqueMissing)); err != nil {
		return nil, err
	}
	for i := range embedded {
		text := uniqueMissing[i]
		for _, idx := range missingIdxMap[text] {
			results[idx] = cloneVector(embedded[i])
		}
		a.storeCache(cache, text, embedded[i])
	}
	return results, nil
}

func (a *Adapter) checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return a.withContext(fmt.Errorf("received %d embeddings for %d texts", len(vectors), want))
	}
	for i := range vectors {
		if len(vectors[i]) != a.dimension {
			return fmt.Errorf("embedder %q: %w", a.id, core.NewDimensionError(a.dimension, len(vectors[i])))
		}
	}
	return nil
}

func (a *Adapter) getCache() *lru.Cache[string, []float32] {
	a.cacheMu.Lock()
	cache := a.cache
	a.cacheMu.Unlock()
	return cache
}

func (a *Adapter) lookupCache(cache *lru.Cache[string, []float32], text string) ([]float32, bool) {
	key := cacheKey(text)
	a.cacheMu.Lock()
	current := a.cache
	if current == nil || current != cache {
		a.cacheMu.Unlock()
		return nil, false
	}
	value, ok := current.Get(key)
	a.cacheMu.Unlock()
	if !ok {
		return nil, false
	}
	return cloneVector(value), true
}

func (a *Adapter) storeCache(cache *lru.Cache[string, []float32], text string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	key := cacheKey(text)
	a.cacheMu.Lock()
	if a.cache == cache && a.cache != nil {
		a.cache.Add(key, cloneVector(vector))
	}
	a.cacheMu.Unlock()
}

func (a *Adapter) withContext(err error) error {
	if err == nil {
		return nil
	}
	return core.NewBackendError(fmt.Sprintf("embedder %q", a.id), err)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}

func buildProviderEmbedder(
	ctx context.Context,
	cfg *Config,
	options ...embeddings.Option,
) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return buildOpenAIEmbedder(cfg, options...)
	case ProviderGoogle:
		return buildGoogleEmbedder(ctx, cfg, options...)
	default:
		return nil, fmt.Errorf("%w: embedder %q: provider %q is not supported", core.ErrInvalidArgument, cfg.ID, cfg.Provider)
	}
}

func buildOpenAIEmbedder(cfg *Config, opts ...embeddings.Option) (embeddings.Embedder, error) {
	openaiOpts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		openaiOpts = append(openaiOpts, openai.WithToken(cfg.APIKey))
	}
	client, err := openai.New(openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: initialize openai client: %w", cfg.ID, err)
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: construct openai embedder: %w", cfg.ID, err)
	}
	return embedder, nil
}

func buildGoogleEmbedder(
	ctx context.Context,
	cfg *Config,
	opts ...embeddings.Option,
) (embeddings.Embedder, error) {
	googleOpts := []googleai.Option{
		googleai.WithDefaultEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		googleOpts = append(googleOpts, googleai.WithAPIKey(cfg.APIKey))
	}
	if project := lookupString(cfg.Options, "project_id"); project != "" {
		googleOpts = append(googleOpts, googleai.WithCloudProject(project))
	}
	if location := lookupString(cfg.Options, "location"); location != "" {
		googleOpts = append(googleOpts, googleai.WithCloudLocation(location))
	}
	client, err := googleai.New(ctx, googleOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: initialize google client: %w", cfg.ID, err)
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: construct google embedder: %w", cfg.ID, err)
	}
	return embedder, nil
}
