package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded from graphrag.toml and
// GRAPHRAG_* environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Session   SessionConfig   `mapstructure:"session"`
	Build     BuildConfig     `mapstructure:"build"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type LLMConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	AnswerTimeout   time.Duration `mapstructure:"answer_timeout"`
	ClassifyTimeout time.Duration `mapstructure:"classify_timeout"`
	ExtractTimeout  time.Duration `mapstructure:"extract_timeout"`
}

type EmbeddingConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	VectorTopK    int `mapstructure:"vector_top_k"`
	GraphMaxDepth int `mapstructure:"graph_max_depth"`
	RRFK          int `mapstructure:"rrf_k"`
}

// UpstreamConfig points at the document platform's Postgres database.
type UpstreamConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN renders the pgx connection string.
func (c UpstreamConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// StorageConfig points at the S3/MinIO bucket holding uploaded PDFs.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

type SessionConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	HistoryLimit  int           `mapstructure:"history_limit"`
}

type BuildConfig struct {
	ChunkSize       int           `mapstructure:"chunk_size"`
	ExtractTruncate int           `mapstructure:"extract_truncate"`
	ChunkSleep      time.Duration `mapstructure:"chunk_sleep"`
}

// Load reads configuration from the given path, falling back to
// ./graphrag.toml and ~/.graphrag/graphrag.toml, then applies GRAPHRAG_*
// environment overrides and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		abs, _ := filepath.Abs(configPath)
		v.SetConfigFile(abs)
	} else if _, err := os.Stat("graphrag.toml"); err == nil {
		abs, _ := filepath.Abs("graphrag.toml")
		v.SetConfigFile(abs)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, ".graphrag", "graphrag.toml"))
	}

	setDefaults(v)

	v.SetEnvPrefix("GRAPHRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Missing default config is fine, defaults + env apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("neo4j.uri", "bolt://neo4j:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "neo4j_password")

	v.SetDefault("qdrant.host", "qdrant")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "knowledge_entities")

	v.SetDefault("llm.base_url", "http://vllm:8000/v1")
	v.SetDefault("llm.api_key", "llmflow-vllm-api-key")
	v.SetDefault("llm.model", "llama-4-mini")
	v.SetDefault("llm.answer_timeout", 60*time.Second)
	v.SetDefault("llm.classify_timeout", 30*time.Second)
	v.SetDefault("llm.extract_timeout", time.Hour)

	v.SetDefault("embedding.base_url", "http://tei-embedding:80/v1")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "BAAI/bge-m3")
	v.SetDefault("embedding.dimension", 1024)
	v.SetDefault("embedding.timeout", 60*time.Second)

	v.SetDefault("search.vector_top_k", 10)
	v.SetDefault("search.graph_max_depth", 2)
	v.SetDefault("search.rrf_k", 60)

	v.SetDefault("upstream.host", "postgresql")
	v.SetDefault("upstream.port", 5432)
	v.SetDefault("upstream.user", "llmflow")
	v.SetDefault("upstream.password", "postgres_llmflow")
	v.SetDefault("upstream.database", "dify")
	v.SetDefault("upstream.timeout", 30*time.Second)

	v.SetDefault("storage.endpoint", "http://minio:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minio_llmflow")
	v.SetDefault("storage.bucket", "dify")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("session.redis_addr", "redis:6379")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", 0)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.history_limit", 50)

	v.SetDefault("build.chunk_size", 1000)
	v.SetDefault("build.extract_truncate", 4000)
	v.SetDefault("build.chunk_sleep", 50*time.Millisecond)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j uri cannot be empty")
	}
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant collection cannot be empty")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive: %d", c.Embedding.Dimension)
	}
	if c.Search.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive: %d", c.Search.RRFK)
	}
	if c.Search.GraphMaxDepth < 1 || c.Search.GraphMaxDepth > 5 {
		return fmt.Errorf("graph_max_depth must be in [1,5]: %d", c.Search.GraphMaxDepth)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive: %v", c.Session.TTL)
	}
	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("session history_limit must be positive: %d", c.Session.HistoryLimit)
	}
	if c.Build.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.Build.ChunkSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}
