package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ragforge/ragforge/engine/core"
	appconfig "github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client    *redis.Client
	setKey    string
	dimension int
	maxTopK   int
}

const (
	redisDefaultMaxTopK     = 1000
	redisTextAttrKey        = "text"
	redisMetadataAttrKey    = "_metadata"
	redisMetadataPrefix     = "meta_"
	redisDefaultVectorKey   = "knowledge_vectors"
	redisFilterEqualsFormat = `%s == "%s"`
)

func newRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		cfg.DSN = resolveRedisDSN(ctx, cfg)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%w: redis vector store %q: connection DSN is required", core.ErrInvalidArgument, cfg.ID)
	}
	options, err := parseRedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, core.NewBackendError(fmt.Sprintf("redis vector store %q: ping", cfg.ID), err)
	}
	return &redisStore{
		client:    client,
		setKey:    determineRedisKey(cfg),
		dimension: cfg.Dimension,
		maxTopK:   chooseRedisMaxTopK(cfg.MaxTopK),
	}, nil
}

func parseRedisOptions(cfg *Config) (*redis.Options, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("%w: redis vector store %q: invalid dsn: %w", core.ErrInvalidArgument, cfg.ID, err)
	}
	opt.Protocol = 3
	opt.UnstableResp3 = true
	if opt.Username == "" {
		if user, ok := cfg.Auth["username"]; ok && strings.TrimSpace(user) != "" {
			opt.Username = strings.TrimSpace(user)
		}
	}
	if opt.Password == "" {
		if pass, ok := cfg.Auth["password"]; ok {
			opt.Password = pass
		}
	}
	return opt, nil
}

func resolveRedisDSN(ctx context.Context, cfg *Config) string {
	log := logger.FromContext(ctx)
	globalCfg := appconfig.FromContext(ctx)
	if trimmed := strings.TrimSpace(globalCfg.Redis.URL); trimmed != "" {
		log.Debug("redis vector store: using global redis url fallback", "vector_id", cfg.ID)
		return trimmed
	}
	dsn := buildRedisDSNFromConfig(&globalCfg.Redis)
	if strings.TrimSpace(dsn) == "" {
		log.Warn("redis vector store: global redis config incomplete for DSN fallback", "vector_id", cfg.ID)
		return ""
	}
	log.Debug("redis vector store: built DSN from global redis settings", "vector_id", cfg.ID)
	return dsn
}

func buildRedisDSNFromConfig(cfg *appconfig.RedisConfig) string {
	if cfg == nil {
		return ""
	}
	if trimmed := strings.TrimSpace(cfg.URL); trimmed != "" {
		return trimmed
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == "" {
		port = "6379"
	}
	scheme := "redis"
	if cfg.TLSEnabled {
		scheme = "rediss"
	}
	u := &url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   fmt.Sprintf("/%d", cfg.DB),
	}
	if pwd := strings.TrimSpace(cfg.Password); pwd != "" {
		u.User = url.UserPassword("", pwd)
	}
	return u.String()
}

func determineRedisKey(cfg *Config) string {
	candidates := []string{
		cfg.Collection,
		cfg.Namespace,
		cfg.Index,
		cfg.Table,
		cfg.ID,
	}
	for _, candidate := range candidates {
		if key := sanitizeRedisKey(candidate); key != "" {
			return key
		}
	}
	return redisDefaultVectorKey
}

func sanitizeRedisKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
		case r == ':', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	key := strings.Trim(builder.String(), "_:-")
	return key
}

func chooseRedisMaxTopK(maxTopK int) int {
	if maxTopK <= 0 {
		return redisDefaultMaxTopK
	}
	return maxTopK
}

func (r *redisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, record := range records {
		if err := validateRecord("redis", &record, r.dimension); err != nil {
			return err
		}
		vector := &redis.VectorValues{Val: float32ToFloat64(record.Embedding)}
		pipe.VAdd(ctx, r.setKey, record.ID, vector)
		pipe.VSetAttr(ctx, r.setKey, record.ID, buildRedisAttributes(record))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewBackendError("redis: upsert pipeline", err)
	}
	return nil
}

func (r *redisStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != r.dimension {
		return nil, fmt.Errorf("redis: query: %w", core.NewDimensionError(r.dimension, len(query)))
	}
	if err := validateTopK(string(ProviderRedis), opts.TopK); err != nil {
		return nil, err
	}
	count := r.searchCount(opts.TopK)
	start := time.Now()
	args := buildVSimArgs(count, opts.Filters)
	results, err := r.client.VSimWithArgsWithScores(
		ctx,
		r.setKey,
		&redis.VectorValues{Val: float32ToFloat64(query)},
		args,
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, core.NewBackendError("redis: similarity search", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	payloads, err := r.loadAttributePayloads(ctx, results)
	if err != nil {
		return nil, err
	}
	matches, err := buildMatchesFromPayloads(results, payloads, opts.MinScore)
	if err != nil {
		return nil, err
	}
	recordVectorSearch(ctx, string(ProviderRedis), count, time.Since(start), len(matches))
	return matches, nil
}

func (r *redisStore) Delete(ctx context.Context, filter Filter) (int, error) {
	targets := make(map[string]struct{}, len(filter.IDs))
	for _, id := range filter.IDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			targets[trimmed] = struct{}{}
		}
	}
	if len(filter.Metadata) > 0 {
		ids, err := r.lookupIDsByMetadata(ctx, filter.Metadata)
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			if trimmed := strings.TrimSpace(id); trimmed != "" {
				targets[trimmed] = struct{}{}
			}
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.BoolCmd, 0, len(targets))
	for id := range targets {
		cmds = append(cmds, pipe.VRem(ctx, r.setKey, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, core.NewBackendError("redis: delete vectors", err)
	}
	removed := 0
	for _, cmd := range cmds {
		if ok, err := cmd.Result(); err == nil && ok {
			removed++
		}
	}
	return removed, nil
}

func (r *redisStore) lookupIDsByMetadata(ctx context.Context, metadata map[string]string) ([]string, error) {
	filter := buildRedisFilter(metadata)
	if filter == "" {
		return nil, nil
	}
	total, err := r.client.VCard(ctx, r.setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, core.NewBackendError("redis: vcard", err)
	}
	if total == 0 {
		return nil, nil
	}
	args := &redis.VSimArgs{
		Count:  total,
		Filter: filter,
	}
	zero := make([]float64, r.dimension)
	names, err := r.client.VSimWithArgs(
		ctx,
		r.setKey,
		&redis.VectorValues{Val: zero},
		args,
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, core.NewBackendError("redis: metadata filter query", err)
	}
	return names, nil
}

func (r *redisStore) Dimension() int {
	return r.dimension
}

func (r *redisStore) Close(context.Context) error {
	return r.client.Close()
}

func (r *redisStore) searchCount(topK int) int {
	count := topK
	if r.maxTopK > 0 && count > r.maxTopK {
		count = r.maxTopK
	}
	return count
}

func buildVSimArgs(count int, filters map[string]string) *redis.VSimArgs {
	args := &redis.VSimArgs{
		Count: int64(count),
	}
	if filter := buildRedisFilter(filters); filter != "" {
		args.Filter = filter
	}
	return args
}

func (r *redisStore) loadAttributePayloads(
	ctx context.Context,
	results []redis.VectorScore,
) ([]string, error) {
	pipe := r.client.Pipeline()
	attrCmds := make([]*redis.StringCmd, len(results))
	for i := range results {
		attrCmds[i] = pipe.VGetAttr(ctx, r.setKey, results[i].Name)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, core.NewBackendError("redis: fetch attributes", err)
	}
	payloads := make([]string, len(results))
	for i := range attrCmds {
		raw, err := attrCmds[i].Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				payloads[i] = ""
				continue
			}
			return nil, fmt.Errorf("redis: read attributes for %q: %w", results[i].Name, err)
		}
		payloads[i] = raw
	}
	return payloads, nil
}

func buildMatchesFromPayloads(
	results []redis.VectorScore,
	payloads []string,
	minScore *float64,
) ([]Match, error) {
	matches := make([]Match, 0, len(results))
	for i, item := range results {
		if minScore != nil && item.Score < *minScore {
			continue
		}
		if i >= len(payloads) || payloads[i] == "" {
			continue
		}
		match, err := buildMatchFromAttributes(item.Name, item.Score, payloads[i])
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func float32ToFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = float64(values[i])
	}
	return out
}

func buildRedisAttributes(record Record) map[string]any {
	attrs := make(map[string]any, len(record.Metadata)+2)
	attrs[redisTextAttrKey] = record.Text
	meta := core.CloneMap(record.Metadata)
	if meta == nil {
		meta = make(map[string]any)
	}
	attrs[redisMetadataAttrKey] = meta
	for key, value := range record.Metadata {
		attrs[metadataAttributeKey(key)] = fmt.Sprint(value)
	}
	return attrs
}

func metadataAttributeKey(key string) string {
	return redisMetadataPrefix + sanitizeAttributeKey(key)
}

func sanitizeAttributeKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "unknown"
	}
	builder := strings.Builder{}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
		default:
			builder.WriteRune('_')
		}
	}
	result := strings.Trim(builder.String(), "_")
	if result == "" {
		return "unknown"
	}
	return result
}

func buildRedisFilter(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		attr := "." + metadataAttributeKey(key)
		parts = append(parts, fmt.Sprintf(redisFilterEqualsFormat, attr, escapeFilterValue(filters[key])))
	}
	return strings.Join(parts, " && ")
}

func escapeFilterValue(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return replacer.Replace(value)
}

func buildMatchFromAttributes(id string, score float64, attrJSON string) (Match, error) {
	text, metadata, err := parseAttributeJSON(attrJSON)
	if err != nil {
		return Match{}, fmt.Errorf("redis: parse attributes for %q: %w", id, err)
	}
	return Match{
		ID:       id,
		Score:    score,
		Text:     text,
		Metadata: metadata,
	}, nil
}

func parseAttributeJSON(payload string) (string, map[string]any, error) {
	if strings.TrimSpace(payload) == "" {
		return "", make(map[string]any), nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", nil, err
	}
	text := ""
	if value, ok := decoded[redisTextAttrKey].(string); ok {
		text = value
	}
	meta := make(map[string]any)
	if raw, ok := decoded[redisMetadataAttrKey].(map[string]any); ok && raw != nil {
		meta = raw
	}
	return text, meta, nil
}
