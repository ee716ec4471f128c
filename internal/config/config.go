package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Nauflars/myshop-sub003/internal/domain"
	"github.com/Nauflars/myshop-sub003/internal/embedding"
)

type Config struct {
	AppEnv string

	DatabaseURL string

	// RabbitMQ
	RabbitURL      string
	RabbitExchange string
	WorkerPrefetch int

	// Redis
	RedisAddr string
	RedisPass string
	RedisDB   int

	// External embedding service
	EmbeddingAPIKey      string
	EmbeddingBaseURL     string
	EmbeddingModel       string
	EmbeddingTimeout     time.Duration
	EmbeddingConcurrency int64
	QueryVectorTTL       time.Duration

	// Merge parameters
	VectorDim int
	DecayRate float64
	Weights   domain.WeightPolicy

	// Failure handling
	MaxRetries      int
	RetryBaseDelay  time.Duration
	ConflictRetries int

	// Audit redispatcher
	RedispatchEnabled  bool
	RedispatchInterval time.Duration
	RedispatchGrace    time.Duration

	HealthAddr string

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")

	cfg.RabbitURL = getEnv("RABBIT_URL", "")
	cfg.RabbitExchange = getEnv("RABBIT_EXCHANGE", "shop.interactions")
	cfg.WorkerPrefetch = getIntEnv("WORKER_PREFETCH", 10)

	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPass = getEnv("REDIS_PASS", "")
	cfg.RedisDB = getIntEnv("REDIS_DB", 0)

	cfg.EmbeddingAPIKey = getEnv("EMBEDDING_API_KEY", "")
	cfg.EmbeddingBaseURL = getEnv("EMBEDDING_BASE_URL", "")
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", "text-embedding-3-small")
	cfg.EmbeddingTimeout = getDuration("EMBEDDING_TIMEOUT", 10*time.Second)
	cfg.EmbeddingConcurrency = int64(getIntEnv("EMBED_CONCURRENCY", 4))
	cfg.QueryVectorTTL = getDuration("QUERY_VECTOR_TTL", 24*time.Hour)

	cfg.VectorDim = getIntEnv("VECTOR_DIM", 1536)
	cfg.DecayRate = getFloatEnv("DECAY_RATE", embedding.DefaultDecayRate)

	weights, err := domain.NewWeightPolicy(
		getFloatEnv("WEIGHT_SEARCH", domain.DefaultWeightSearch),
		getFloatEnv("WEIGHT_VIEW", domain.DefaultWeightView),
		getFloatEnv("WEIGHT_CLICK", domain.DefaultWeightClick),
		getFloatEnv("WEIGHT_PURCHASE", domain.DefaultWeightPurchase),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid weight config: %w", err)
	}
	cfg.Weights = weights

	cfg.MaxRetries = getIntEnv("MAX_RETRIES", 5)
	cfg.RetryBaseDelay = getDuration("RETRY_BASE_DELAY", 5*time.Second)
	cfg.ConflictRetries = getIntEnv("CONFLICT_RETRIES", 3)

	cfg.RedispatchEnabled = getEnv("REDISPATCH_ENABLED", "true") == "true"
	cfg.RedispatchInterval = getDuration("REDISPATCH_INTERVAL", 30*time.Second)
	cfg.RedispatchGrace = getDuration("REDISPATCH_GRACE", 1*time.Minute)

	cfg.HealthAddr = getEnv("HEALTH_ADDR", ":8090")

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	// validation
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing DATABASE_URL")
	}
	if cfg.RabbitURL == "" {
		return nil, fmt.Errorf("missing RABBIT_URL")
	}
	if cfg.AppEnv != "dev" && cfg.EmbeddingAPIKey == "" {
		return nil, fmt.Errorf("missing EMBEDDING_API_KEY (required when APP_ENV != dev)")
	}
	if cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("VECTOR_DIM must be positive")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must not be negative")
	}

	return cfg, nil
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloatEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
