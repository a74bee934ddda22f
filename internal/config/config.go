package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int

	RedisAddr string

	GCPProject        string
	GCSBucketName     string
	GCSSignedURLExpiry string
	PubSubTopicHigh   string
	PubSubTopicDefault string
	PubSubTopicLow    string
	BigQueryDataset   string
	BigQueryTable     string
	FirebaseProjectID string

	DetectorAPIURL     string
	DetectorAPITimeout int // seconds

	RateLimitCapacity int // R
	RateLimitWindow   int // W, seconds
	DailyFreeQuota    int
	JobTimeoutSeconds int
	MaxUploadBytes    int64
	DuplicateWindowHours int

	WorkerCount int

	InternalAuthSecret string
}

// Load reads configuration from environment variables. DATABASE_URL and
// GOOGLE_CLOUD_PROJECT are required; everything else falls back to a
// sensible default.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		RedisAddr: envStr("REDIS_ADDR", "localhost:6379"),

		GCPProject:         gcpProject,
		GCSBucketName:      envStr("GCS_BUCKET_NAME", ""),
		GCSSignedURLExpiry: envStr("GCS_SIGNED_URL_EXPIRY", "15m"),
		PubSubTopicHigh:    envStr("PUBSUB_TOPIC_HIGH", "analysis-jobs-high"),
		PubSubTopicDefault: envStr("PUBSUB_TOPIC_DEFAULT", "analysis-jobs-default"),
		PubSubTopicLow:     envStr("PUBSUB_TOPIC_LOW", "analysis-jobs-low"),
		BigQueryDataset:    envStr("BIGQUERY_DATASET", "forensicbot_audit"),
		BigQueryTable:      envStr("BIGQUERY_TABLE", "audit_events"),
		FirebaseProjectID:  envStr("FIREBASE_PROJECT_ID", ""),

		DetectorAPIURL:     envStr("DETECTOR_API_URL", ""),
		DetectorAPITimeout: envInt("DETECTOR_API_TIMEOUT_SECONDS", 30),

		RateLimitCapacity:   envInt("RATE_LIMIT_CAPACITY", 5),
		RateLimitWindow:     envInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		DailyFreeQuota:      envInt("DAILY_FREE_QUOTA", 3),
		JobTimeoutSeconds:   envInt("JOB_TIMEOUT_SECONDS", 300),
		MaxUploadBytes:      int64(envInt("MAX_UPLOAD_MB", 20)) * 1024 * 1024,
		DuplicateWindowHours: envInt("DUPLICATE_WINDOW_HOURS", 24),

		WorkerCount: envInt("WORKER_COUNT", 3),

		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),
	}

	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
