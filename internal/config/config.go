package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the analytics service.
type Config struct {
	Environment          string
	Addr                 string
	DatabaseURL          string
	MigrationsDir        string
	IngestToken          string
	IPHashSalt           string
	CollectorBatchSize   int
	CollectorMaxBuffer   int
	CollectorFlushEvery  time.Duration
	AggregateInterval    time.Duration
	AlertInterval        time.Duration
	BaselineRefreshEvery time.Duration
	BaselineWindowDays   int
	WebhookSecret        string
	NotifyTimeout        time.Duration
	RateLimitRedisAddr   string
	RateLimitRedisPass   string
	RateLimitRedisDB     int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("ANALYTICS_ADDR", ":4100"),
		DatabaseURL:          GetString("DATABASE_URL", "postgres://plugboard:plugboard@db:5432/analytics?sslmode=disable"),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		IngestToken:          GetString("INGEST_AUTH_TOKEN", ""),
		IPHashSalt:           GetString("IP_HASH_SALT", "plugboard-analytics"),
		CollectorBatchSize:   GetInt("COLLECTOR_BATCH_SIZE", 100),
		CollectorMaxBuffer:   GetInt("COLLECTOR_MAX_BUFFER", 10000),
		CollectorFlushEvery:  time.Duration(GetInt("COLLECTOR_FLUSH_SECONDS", 5)) * time.Second,
		AggregateInterval:    time.Duration(GetInt("AGGREGATE_INTERVAL_SECONDS", 300)) * time.Second,
		AlertInterval:        time.Duration(GetInt("ALERT_INTERVAL_SECONDS", 60)) * time.Second,
		BaselineRefreshEvery: time.Duration(GetInt("BASELINE_REFRESH_MINUTES", 360)) * time.Minute,
		BaselineWindowDays:   GetInt("BASELINE_WINDOW_DAYS", 7),
		WebhookSecret:        GetString("ALERT_WEBHOOK_SECRET", ""),
		NotifyTimeout:        time.Duration(GetInt("NOTIFY_TIMEOUT_SECONDS", 10)) * time.Second,
		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}
