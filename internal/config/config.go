// Package config loads service configuration from an optional YAML
// file and CHESSMATE_* environment variables. Env values win over the
// file; defaults match the documented operator contract.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Postgres holds relational store connection settings.
type Postgres struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxConnections  int    `mapstructure:"max_connections"`
	IdleConnections int    `mapstructure:"idle_connections"`
}

// Agent holds LLM evaluator settings.
type Agent struct {
	Model               string        `mapstructure:"model"`
	RequestTimeout      time.Duration `mapstructure:"-"`
	CandidateMultiplier int           `mapstructure:"candidate_multiplier"`
	CandidateMax        int           `mapstructure:"candidate_max"`
	BreakerThreshold    int           `mapstructure:"circuit_breaker_threshold"`
	BreakerCooloff      time.Duration `mapstructure:"-"`
	CacheTTL            time.Duration `mapstructure:"-"`
	ReasoningEffort     string        `mapstructure:"reasoning_effort"`
}

// RateLimit holds API throttling settings.
type RateLimit struct {
	RequestsPerMinute  int   `mapstructure:"requests_per_minute"`
	BucketSize         int   `mapstructure:"bucket_size"`
	BodyBytesPerMinute int64 `mapstructure:"body_bytes_per_minute"`
	BodyBucketSize     int64 `mapstructure:"body_bucket_size"`
}

// Worker holds embedding worker settings.
type Worker struct {
	BatchSize   int           `mapstructure:"batch_size"`
	HealthPort  int           `mapstructure:"health_port"`
	MetricsPath string        `mapstructure:"metrics_path"`
	OrphanGrace time.Duration `mapstructure:"-"`
}

// Embedding holds embedding service settings.
type Embedding struct {
	Model     string `mapstructure:"model"`
	ChunkSize int    `mapstructure:"chunk_size"`
	MaxChars  int    `mapstructure:"max_chars"`
}

// Config is the full service configuration.
type Config struct {
	HTTPPort            int           `mapstructure:"http_port"`
	RequestTimeout      time.Duration `mapstructure:"-"`
	MaxRequestBodyBytes int64         `mapstructure:"max_request_body_bytes"`

	Postgres  Postgres  `mapstructure:"postgres"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
	Agent     Agent     `mapstructure:"agent"`
	Worker    Worker    `mapstructure:"worker"`
	Embedding Embedding `mapstructure:"embedding"`

	QdrantURL        string `mapstructure:"qdrant_url"`
	QdrantCollection string `mapstructure:"qdrant_collection"`
	RedisURL         string `mapstructure:"redis_url"`

	OpenAIAPIKey  string `mapstructure:"-"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`

	MaxPendingEmbeddings int64  `mapstructure:"max_pending_embeddings"`
	CollectionLog        string `mapstructure:"collection_log"`
	APIBaseURL           string `mapstructure:"api_base_url"`
}

// Defaults returns the documented default configuration.
func Defaults() *Config {
	return &Config{
		HTTPPort:            8080,
		RequestTimeout:      30 * time.Second,
		MaxRequestBodyBytes: 1 << 20,
		Postgres: Postgres{
			Host:            "localhost",
			Port:            5432,
			User:            "chessmate",
			Database:        "chessmate",
			SSLMode:         "disable",
			MaxConnections:  25,
			IdleConnections: 5,
		},
		RateLimit: RateLimit{
			RequestsPerMinute: 60,
		},
		Agent: Agent{
			Model:               "gpt-4o-mini",
			RequestTimeout:      15 * time.Second,
			CandidateMultiplier: 5,
			CandidateMax:        25,
			BreakerThreshold:    5,
			BreakerCooloff:      60 * time.Second,
			CacheTTL:            time.Hour,
			ReasoningEffort:     "low",
		},
		Worker: Worker{
			BatchSize:   16,
			HealthPort:  8081,
			OrphanGrace: 15 * time.Minute,
		},
		Embedding: Embedding{
			Model:     "text-embedding-3-small",
			ChunkSize: 2048,
			MaxChars:  120_000,
		},
		QdrantURL:            "http://localhost:6333",
		QdrantCollection:     "chess_positions",
		MaxPendingEmbeddings: 250_000,
		CollectionLog:        "collections.log",
		APIBaseURL:           "http://localhost:8080",
	}
}

// Load builds the configuration: defaults, then the optional YAML file
// at CHESSMATE_CONFIG, then environment overrides, then validation.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CHESSMATE_CONFIG"); path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config file: %w", err)
		}
		// Duration-typed fields arrive as scalars in the file.
		if s := v.GetFloat64("agent.request_timeout_seconds"); s > 0 {
			cfg.Agent.RequestTimeout = secondsToDuration(s)
		}
		if s := v.GetFloat64("agent.circuit_breaker_cooloff_seconds"); s > 0 {
			cfg.Agent.BreakerCooloff = secondsToDuration(s)
		}
		if s := v.GetFloat64("request_timeout_seconds"); s > 0 {
			cfg.RequestTimeout = secondsToDuration(s)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setInt(&cfg.HTTPPort, "CHESSMATE_HTTP_PORT")
	setSeconds(&cfg.RequestTimeout, "CHESSMATE_REQUEST_TIMEOUT_SECONDS")
	setInt64(&cfg.MaxRequestBodyBytes, "CHESSMATE_MAX_REQUEST_BODY_BYTES")

	setString(&cfg.Postgres.Host, "CHESSMATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CHESSMATE_POSTGRES_PORT")
	setString(&cfg.Postgres.User, "CHESSMATE_POSTGRES_USER")
	setString(&cfg.Postgres.Password, "CHESSMATE_POSTGRES_PASSWORD")
	setString(&cfg.Postgres.Database, "CHESSMATE_POSTGRES_DB")
	setString(&cfg.Postgres.SSLMode, "CHESSMATE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.MaxConnections, "CHESSMATE_POSTGRES_MAX_CONNECTIONS")
	setInt(&cfg.Postgres.IdleConnections, "CHESSMATE_POSTGRES_IDLE_CONNECTIONS")

	setInt(&cfg.RateLimit.RequestsPerMinute, "CHESSMATE_RATE_LIMIT_REQUESTS_PER_MINUTE")
	setInt(&cfg.RateLimit.BucketSize, "CHESSMATE_RATE_LIMIT_BUCKET_SIZE")
	setInt64(&cfg.RateLimit.BodyBytesPerMinute, "CHESSMATE_RATE_LIMIT_BODY_BYTES_PER_MINUTE")
	setInt64(&cfg.RateLimit.BodyBucketSize, "CHESSMATE_RATE_LIMIT_BODY_BUCKET_SIZE")

	setString(&cfg.Agent.Model, "CHESSMATE_AGENT_MODEL")
	setSeconds(&cfg.Agent.RequestTimeout, "CHESSMATE_AGENT_REQUEST_TIMEOUT_SECONDS")
	setInt(&cfg.Agent.CandidateMultiplier, "CHESSMATE_AGENT_CANDIDATE_MULTIPLIER")
	setInt(&cfg.Agent.CandidateMax, "CHESSMATE_AGENT_CANDIDATE_MAX")
	setIntAllowZero(&cfg.Agent.BreakerThreshold, "CHESSMATE_AGENT_CIRCUIT_BREAKER_THRESHOLD")
	setSeconds(&cfg.Agent.BreakerCooloff, "CHESSMATE_AGENT_CIRCUIT_BREAKER_COOLOFF_SECONDS")
	setSeconds(&cfg.Agent.CacheTTL, "CHESSMATE_AGENT_CACHE_TTL_SECONDS")
	setString(&cfg.Agent.ReasoningEffort, "CHESSMATE_AGENT_REASONING_EFFORT")

	setInt(&cfg.Worker.BatchSize, "CHESSMATE_WORKER_BATCH_SIZE")
	setInt(&cfg.Worker.HealthPort, "CHESSMATE_WORKER_HEALTH_PORT")
	setString(&cfg.Worker.MetricsPath, "CHESSMATE_WORKER_METRICS_PATH")
	setSeconds(&cfg.Worker.OrphanGrace, "CHESSMATE_WORKER_ORPHAN_GRACE_SECONDS")

	setString(&cfg.Embedding.Model, "CHESSMATE_EMBEDDING_MODEL")
	setInt(&cfg.Embedding.ChunkSize, "CHESSMATE_EMBEDDING_CHUNK_SIZE")
	setInt(&cfg.Embedding.MaxChars, "CHESSMATE_EMBEDDING_MAX_CHARS")

	setString(&cfg.QdrantURL, "CHESSMATE_QDRANT_URL")
	setString(&cfg.QdrantCollection, "CHESSMATE_QDRANT_COLLECTION")
	setString(&cfg.RedisURL, "CHESSMATE_REDIS_URL")
	setString(&cfg.OpenAIAPIKey, "CHESSMATE_OPENAI_API_KEY")
	setString(&cfg.OpenAIBaseURL, "CHESSMATE_OPENAI_BASE_URL")

	setInt64AllowNegative(&cfg.MaxPendingEmbeddings, "CHESSMATE_MAX_PENDING_EMBEDDINGS")
	setString(&cfg.CollectionLog, "CHESSMATE_COLLECTION_LOG")
	setString(&cfg.APIBaseURL, "CHESSMATE_API_URL")
}

// Validate rejects values the runtime cannot operate with. Performed
// once at startup so workers fail fast rather than mid-claim.
func (c *Config) Validate() error {
	if c.Worker.BatchSize < 1 || c.Worker.BatchSize > 256 {
		return fmt.Errorf("worker batch size must be in [1,256], got %d", c.Worker.BatchSize)
	}
	if c.Worker.HealthPort <= 0 {
		return fmt.Errorf("worker health port must be positive, got %d", c.Worker.HealthPort)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("http port must be positive, got %d", c.HTTPPort)
	}
	if c.Agent.CandidateMultiplier < 1 {
		return fmt.Errorf("agent candidate multiplier must be >= 1, got %d", c.Agent.CandidateMultiplier)
	}
	if c.Agent.CandidateMax < 1 {
		return fmt.Errorf("agent candidate max must be >= 1, got %d", c.Agent.CandidateMax)
	}
	if c.Embedding.ChunkSize < 1 {
		return fmt.Errorf("embedding chunk size must be >= 1, got %d", c.Embedding.ChunkSize)
	}
	if c.Embedding.MaxChars < 1 {
		return fmt.Errorf("embedding max chars must be >= 1, got %d", c.Embedding.MaxChars)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setIntAllowZero(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			*dst = n
		}
	}
}

func setInt64AllowNegative(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			*dst = secondsToDuration(f)
		}
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
