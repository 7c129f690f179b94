package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ragforge/ragforge/engine/core"
	appconfig "github.com/ragforge/ragforge/pkg/config"
)

type qdrantStore struct {
	client     *http.Client
	baseURL    string
	collection string
	dimension  int
	metric     string
	apiKey     string
}

// qdrantSearchResult captures the fields returned by Qdrant search responses.
type qdrantSearchResult struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

const qdrantDefaultTimeout = 10 * time.Second

func newQdrantStore(ctx context.Context, cfg *Config) (Store, error) {
	base := strings.TrimRight(cfg.DSN, "/")
	collection := cfg.Collection
	if collection == "" {
		collection = cfg.Table
	}
	if collection == "" {
		collection = cfg.ID
	}
	timeout := qdrantDefaultTimeout
	if globalCfg := appconfig.FromContext(ctx); globalCfg.Knowledge.VectorHTTPTimeout > 0 {
		timeout = globalCfg.Knowledge.VectorHTTPTimeout
	}
	store := &qdrantStore{
		client:     &http.Client{Timeout: timeout},
		baseURL:    base,
		collection: collection,
		dimension:  cfg.Dimension,
		metric:     chooseMetric(cfg.Metric),
	}
	if key, ok := cfg.Auth["api_key"]; ok {
		store.apiKey = key
	}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func chooseMetric(metric string) string {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "euclid", "euclidean", "l2":
		return "Euclid"
	case "dot", "dotproduct":
		return "Dot"
	default:
		return "Cosine"
	}
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": q.metric,
		},
	}
	return q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collection), body, nil)
}

// buildQdrantFilter combines criteria the way Filter specifies: metadata
// conditions must all hold, and the ID list matches as a union with them.
func buildQdrantFilter(ids []string, filters map[string]string) map[string]any {
	conds := make([]any, 0, len(filters))
	for key, val := range filters {
		conds = append(conds, map[string]any{
			"key":   key,
			"match": map[string]any{"value": val},
		})
	}
	switch {
	case len(ids) == 0 && len(conds) == 0:
		return nil
	case len(ids) == 0:
		return map[string]any{"must": conds}
	case len(conds) == 0:
		return map[string]any{"must": []any{map[string]any{"has_id": ids}}}
	default:
		return map[string]any{"should": []any{
			map[string]any{"has_id": ids},
			map[string]any{"must": conds},
		}}
	}
}

func mapQdrantResults(results []qdrantSearchResult, minScore *float64) []Match {
	matches := make([]Match, 0, len(results))
	for _, res := range results {
		if minScore != nil && res.Score < *minScore {
			continue
		}
		payload := core.CloneMap(res.Payload)
		if payload == nil {
			payload = make(map[string]any)
		}
		text := ""
		if raw, ok := payload["text"].(string); ok {
			text = raw
			delete(payload, "text")
		}
		matches = append(matches, Match{
			ID:       fmt.Sprint(res.ID),
			Score:    res.Score,
			Text:     text,
			Metadata: payload,
		})
	}
	return matches
}

func (q *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]any, 0, len(records))
	for i := range records {
		rec := records[i]
		if err := validateRecord("qdrant", &rec, q.dimension); err != nil {
			return err
		}
		payload := core.CloneMap(rec.Metadata)
		if payload == nil {
			payload = make(map[string]any)
		}
		payload["text"] = rec.Text
		points = append(points, map[string]any{
			"id":      rec.ID,
			"vector":  rec.Embedding,
			"payload": payload,
		})
	}
	body := map[string]any{"points": points}
	return q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points", q.collection), body, nil)
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != q.dimension {
		return nil, fmt.Errorf("qdrant: query: %w", core.NewDimensionError(q.dimension, len(query)))
	}
	if err := validateTopK(string(ProviderQdrant), opts.TopK); err != nil {
		return nil, err
	}
	limit := opts.TopK
	start := time.Now()
	request := map[string]any{
		"vector":       query,
		"limit":        limit,
		"with_payload": true,
	}
	if filter := buildQdrantFilter(nil, opts.Filters); filter != nil {
		request["filter"] = filter
	}
	var response struct {
		Result []qdrantSearchResult `json:"result"`
	}
	searchPath := fmt.Sprintf("/collections/%s/points/search", q.collection)
	if err := q.doRequest(ctx, http.MethodPost, searchPath, request, &response); err != nil {
		recordVectorError(ctx, "search", "request")
		return nil, err
	}
	matches := mapQdrantResults(response.Result, opts.MinScore)
	recordVectorSearch(ctx, string(ProviderQdrant), limit, time.Since(start), len(matches))
	return matches, nil
}

func (q *qdrantStore) Delete(ctx context.Context, filter Filter) (int, error) {
	qf := buildQdrantFilter(filter.IDs, filter.Metadata)
	if qf == nil {
		return 0, nil
	}
	count, err := q.countPoints(ctx, qf)
	if err != nil {
		return 0, err
	}
	request := map[string]any{"filter": qf}
	deletePath := fmt.Sprintf("/collections/%s/points/delete", q.collection)
	if err := q.doRequest(ctx, http.MethodPost, deletePath, request, nil); err != nil {
		return 0, err
	}
	return count, nil
}

func (q *qdrantStore) countPoints(ctx context.Context, filter map[string]any) (int, error) {
	request := map[string]any{
		"filter": filter,
		"exact":  true,
	}
	var response struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	countPath := fmt.Sprintf("/collections/%s/points/count", q.collection)
	if err := q.doRequest(ctx, http.MethodPost, countPath, request, &response); err != nil {
		return 0, err
	}
	return response.Result.Count, nil
}

func (q *qdrantStore) Dimension() int {
	return q.dimension
}

func (q *qdrantStore) Close(context.Context) error {
	return nil
}

func (q *qdrantStore) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var buf *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: marshal request: %w", err)
		}
		buf = bytes.NewReader(payload)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("qdrant: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return core.NewBackendError("qdrant: request", err)
	}
	defer resp.Body.Close()
	payload, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("qdrant: read response: %w", readErr)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(payload, &apiErr); err != nil {
			return core.NewBackendError("qdrant", fmt.Errorf("request failed with status %d", resp.StatusCode))
		}
		return core.NewBackendError("qdrant", fmt.Errorf("%s (%d): %s", apiErr.Error, resp.StatusCode, apiErr.Status))
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}
