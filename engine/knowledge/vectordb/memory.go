package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ragforge/ragforge/engine/core"
)

// memoryStore keeps vectors in process memory. Records preserve insertion
// order so equal-score matches rank deterministically.
type memoryStore struct {
	mu        sync.RWMutex
	dimension int
	maxTopK   int
	records   map[string]Record
	order     []string
}

func newMemoryStore(cfg *Config) *memoryStore {
	return &memoryStore{
		dimension: cfg.Dimension,
		maxTopK:   cfg.MaxTopK,
		records:   make(map[string]Record),
	}
}

func (s *memoryStore) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		rec := records[i]
		if err := validateRecord("memory", &rec, s.dimension); err != nil {
			return err
		}
		if _, exists := s.records[rec.ID]; !exists {
			s.order = append(s.order, rec.ID)
		}
		s.records[rec.ID] = Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: append([]float32(nil), rec.Embedding...),
			Metadata:  core.CloneMap(rec.Metadata),
		}
	}
	return nil
}

func (s *memoryStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("memory: query: %w", core.NewDimensionError(s.dimension, len(query)))
	}
	if err := validateTopK(string(ProviderMemory), opts.TopK); err != nil {
		return nil, err
	}
	topK := opts.TopK
	if s.maxTopK > 0 && topK > s.maxTopK {
		topK = s.maxTopK
	}
	start := time.Now()
	s.mu.RLock()
	candidates := make([]Match, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		if !metadataMatches(rec.Metadata, opts.Filters) {
			continue
		}
		score := cosineSimilarity(rec.Embedding, query)
		if opts.MinScore != nil && score < *opts.MinScore {
			continue
		}
		candidates = append(candidates, Match{
			ID:       rec.ID,
			Score:    score,
			Text:     rec.Text,
			Metadata: core.CloneMap(rec.Metadata),
		})
	}
	s.mu.RUnlock()
	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	recordVectorSearch(ctx, string(ProviderMemory), topK, time.Since(start), len(candidates))
	return candidates, nil
}

func (s *memoryStore) Delete(_ context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range filter.IDs {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			removed++
		}
	}
	if len(filter.Metadata) > 0 {
		for id, rec := range s.records {
			if metadataMatches(rec.Metadata, filter.Metadata) {
				delete(s.records, id)
				removed++
			}
		}
	}
	if removed > 0 {
		s.compactOrderLocked()
	}
	return removed, nil
}

// Dimension returns the fixed embedding dimension of the index.
func (s *memoryStore) Dimension() int {
	return s.dimension
}

// Len returns the number of stored records.
func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes every stored record.
func (s *memoryStore) Clear() {
	s.mu.Lock()
	s.records = make(map[string]Record)
	s.order = nil
	s.mu.Unlock()
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}

func (s *memoryStore) compactOrderLocked() {
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.records[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
}

// cosineSimilarity returns the cosine of the angle between a and b.
// Zero-magnitude vectors score zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func metadataMatches(metadata map[string]any, filters map[string]string) bool {
	if len(filters) == 0 {
		return true
	}
	for key, want := range filters {
		raw, ok := metadata[key]
		if !ok {
			return false
		}
		if fmt.Sprint(raw) != want {
			return false
		}
	}
	return true
}
