package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ragforge/ragforge/engine/core"
)

// fileStore persists vectors to a JSON snapshot, giving durable storage
// without an external service. Insertion order is part of the snapshot so
// ranking stays deterministic across restarts.
type fileStore struct {
	mu        sync.RWMutex
	path      string
	dimension int
	records   map[string]Record
	order     []string
}

func newFileStore(cfg *Config) (Store, error) {
	storePath := filepath.Clean(cfg.Path)
	dir := filepath.Dir(storePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filesystem: ensure directory %q: %w", dir, err)
	}
	fs := &fileStore{
		path:      storePath,
		dimension: cfg.Dimension,
		records:   make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (s *fileStore) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		rec := records[i]
		if err := validateRecord("filesystem", &rec, s.dimension); err != nil {
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
	return s.persistLocked()
}

func (s *fileStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("filesystem: query: %w", core.NewDimensionError(s.dimension, len(query)))
	}
	if err := validateTopK(string(ProviderFilesystem), opts.TopK); err != nil {
		return nil, err
	}
	topK := opts.TopK
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
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	recordVectorSearch(ctx, string(ProviderFilesystem), topK, time.Since(start), len(candidates))
	return candidates, nil
}

func (s *fileStore) Delete(_ context.Context, filter Filter) (int, error) {
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
	if removed == 0 {
		return 0, nil
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.records[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return removed, s.persistLocked()
}

func (s *fileStore) Dimension() int {
	return s.dimension
}

func (s *fileStore) Close(context.Context) error {
	return nil
}

func (s *fileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filesystem: read %q: %w", s.path, err)
	}
	var payload fileStorePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("filesystem: decode %q: %w", s.path, err)
	}
	if payload.Dimension > 0 && s.dimension != payload.Dimension {
		return fmt.Errorf(
			"filesystem: snapshot %q: %w",
			s.path, core.NewDimensionError(s.dimension, payload.Dimension),
		)
	}
	for i := range payload.Records {
		rec := payload.Records[i]
		if _, exists := s.records[rec.ID]; !exists {
			s.order = append(s.order, rec.ID)
		}
		s.records[rec.ID] = Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: toFloat32(rec.Embedding),
			Metadata:  rec.Metadata,
		}
	}
	return nil
}

func (s *fileStore) persistLocked() error {
	payload := fileStorePayload{
		Dimension: s.dimension,
		Records:   make([]fileStoreRecord, 0, len(s.order)),
	}
	for _, id := range s.order {
		rec := s.records[id]
		payload.Records = append(payload.Records, fileStoreRecord{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: toFloat64(rec.Embedding),
			Metadata:  rec.Metadata,
		})
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("filesystem: encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filesystem: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("filesystem: commit snapshot: %w", err)
	}
	return nil
}

type fileStorePayload struct {
	Dimension int               `json:"dimension"`
	Records   []fileStoreRecord `json:"records"`
}

type fileStoreRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float64      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

func toFloat64(values []float32) []float64 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	for i := range values {
		out[i] = float64(values[i])
	}
	return out
}

func toFloat32(values []float64) []float32 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float32, len(values))
	for i := range values {
		out[i] = float32(values[i])
	}
	return out
}
