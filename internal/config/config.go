package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint  string
	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	Usage     UsageConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig

	AuthJWTSecret string

	StripeWebhookSecret    string
	StripeProPriceIDs      []string
	ReplicateWebhookSecret string

	OpenAIAPIKey string
	OpenAIModel  string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	// OtelEnabled switches both trace and metric export.
	OtelEnabled       bool
	OtelProtocol      string
	OtelSamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type UsageConfig struct {
	// Timezone is the IANA zone whose civil midnight resets daily counters.
	Timezone string
	// FallbackOffsetHours is used only when Timezone cannot be loaded.
	FallbackOffsetHours int
	Store               string
}

type CacheConfig struct {
	Backend        string
	IdeasTTL       time.Duration
	ThumbnailsTTL  time.Duration
	MemoryCapacity int
}

type RateLimitConfig struct {
	Enabled bool
	IPRate  float64
	IPBurst int
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	LockTTL     time.Duration
}

const (
	StoreDatabase = "database"
	StoreNoop     = "noop"

	CacheBackendDatabase = "database"
	CacheBackendRedis    = "redis"
	CacheBackendMemory   = "memory"
	CacheBackendNoop     = "noop"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "creatorquota"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),

		Observability: ObservabilityConfig{
			LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:         strings.ToLower(getenv("LOG_FORMAT", "json")),
			OtelEnabled:       getenvBool("OTEL_ENABLED", true),
			OtelProtocol:      strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creatorquota"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "creatorquota.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},

		Usage: UsageConfig{
			Timezone:            getenv("USAGE_TIMEZONE", "America/Chicago"),
			FallbackOffsetHours: int(getenvInt64("USAGE_FALLBACK_OFFSET_HOURS", -6)),
			Store:               strings.ToLower(getenv("USAGE_STORE", StoreDatabase)),
		},
		Cache: CacheConfig{
			Backend:        strings.ToLower(getenv("CONTENT_CACHE_BACKEND", CacheBackendDatabase)),
			IdeasTTL:       getenvDuration("CONTENT_CACHE_IDEAS_TTL", 7*24*time.Hour),
			ThumbnailsTTL:  getenvDuration("CONTENT_CACHE_THUMBNAILS_TTL", 30*24*time.Hour),
			MemoryCapacity: int(getenvInt64("CONTENT_CACHE_MEMORY_CAPACITY", 10_000)),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", true),
			IPRate:  getenvFloat("RATE_LIMIT_IP_RATE", 5),
			IPBurst: int(getenvInt64("RATE_LIMIT_IP_BURST", 20)),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", 10*time.Minute),
			LockTTL:     getenvDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),
		},

		AuthJWTSecret:          strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		StripeWebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		StripeProPriceIDs:      parseList(getenv("STRIPE_PRO_PRICE_IDS", "")),
		ReplicateWebhookSecret: strings.TrimSpace(getenv("REPLICATE_WEBHOOK_SECRET", "")),
		OpenAIAPIKey:           strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
		OpenAIModel:            getenv("OPENAI_MODEL", "gpt-4o-mini"),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// Validate rejects combinations that cannot run.
func (c Config) Validate() error {
	switch c.Usage.Store {
	case StoreDatabase:
	case StoreNoop:
		if c.IsProduction() {
			return errors.New("usage store noop is not allowed in production")
		}
	default:
		return fmt.Errorf("unsupported usage store %q", c.Usage.Store)
	}

	switch c.Cache.Backend {
	case CacheBackendDatabase, CacheBackendMemory, CacheBackendNoop:
	case CacheBackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("content cache backend redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unsupported content cache backend %q", c.Cache.Backend)
	}

	if c.RateLimit.Enabled && (c.RateLimit.IPRate <= 0 || c.RateLimit.IPBurst <= 0) {
		return errors.New("rate limit rate and burst must be positive")
	}
	if c.IsProduction() && c.AuthJWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required in production")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
