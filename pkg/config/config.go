package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Redis     RedisConfig     `koanf:"redis"`
}

// KnowledgeConfig carries global defaults for chunking, embedding, and retrieval.
type KnowledgeConfig struct {
	ChunkSize         int           `koanf:"chunk_size"          env:"KNOWLEDGE_CHUNK_SIZE"`
	ChunkOverlap      int           `koanf:"chunk_overlap"       env:"KNOWLEDGE_CHUNK_OVERLAP"`
	RetrievalTopK     int           `koanf:"retrieval_top_k"     env:"KNOWLEDGE_RETRIEVAL_TOP_K"`
	RetrievalMinScore float64       `koanf:"retrieval_min_score" env:"KNOWLEDGE_RETRIEVAL_MIN_SCORE"`
	EmbedderBatchSize int           `koanf:"embedder_batch_size" env:"KNOWLEDGE_EMBEDDER_BATCH_SIZE"`
	VectorHTTPTimeout time.Duration `koanf:"vector_http_timeout" env:"KNOWLEDGE_VECTOR_HTTP_TIMEOUT"`
}

// RedisConfig supplies connection fallbacks for redis-backed vector stores.
type RedisConfig struct {
	URL        string `koanf:"url"         env:"REDIS_URL"`
	Host       string `koanf:"host"        env:"REDIS_HOST"`
	Port       string `koanf:"port"        env:"REDIS_PORT"`
	Password   string `koanf:"password"    env:"REDIS_PASSWORD"`
	DB         int    `koanf:"db"          env:"REDIS_DB"`
	TLSEnabled bool   `koanf:"tls_enabled" env:"REDIS_TLS_ENABLED"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Knowledge: KnowledgeConfig{
			ChunkSize:         512,
			ChunkOverlap:      50,
			RetrievalTopK:     5,
			RetrievalMinScore: 0.5,
			EmbedderBatchSize: 16,
			VectorHTTPTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
	}
}

// Load builds a Config from defaults overridden by environment variables.
// Environment keys are mapped as SECTION_FIELD_NAME -> section.field_name,
// e.g. KNOWLEDGE_CHUNK_SIZE -> knowledge.chunk_size.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	cfg := &Config{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// transformEnvKey converts environment variable names to koanf paths and
// drops variables that do not target a known section.
func transformEnvKey(key, value string) (string, any) {
	lower := strings.ToLower(key)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 {
		return "", nil
	}
	switch parts[0] {
	case "knowledge", "redis":
		return parts[0] + "." + parts[1], value
	default:
		return "", nil
	}
}
