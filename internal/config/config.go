package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Environment string

	// Storage (optional; in-memory store is used when unset)
	DatabaseURL string

	// Redis (optional; in-memory limiter is used when unset)
	RedisURL string

	// Credentials
	MasterKey     string
	MasterOwner   string
	MasterLimit   int64
	MaxKeyLimit   int64
	SecretKey     string
	EncryptionKey string

	// Rate limiting
	RateWindow       time.Duration
	DefaultRateLimit int64

	// Dispatch
	DownstreamURL     string
	DownstreamTimeout time.Duration
	DispatchWorkers   int
	LogCapacity       int
}

func Load() (*Config, error) {
	// Try loading from current directory first, then parent.
	// We ignore errors here as we might be running in an environment
	// where env vars are set directly (e.g. docker/k8s).
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		MasterKey:   getEnv("MASTER_KEY", "Toji"),
		MasterOwner: getEnv("MASTER_OWNER", "System Admin"),
		MasterLimit: getInt64Env("MASTER_LIMIT", 10000),
		MaxKeyLimit: getInt64Env("MAX_KEY_LIMIT", 5000),

		// Secret for signing bearer tokens. IN PRODUCTION, CHANGE THIS!
		SecretKey: getEnv("SECRET_KEY", "your-secret-key"),
		// Key for encrypting credentials at rest. Must be 32 bytes for AES-256.
		EncryptionKey: getEnv("ENCRYPTION_KEY", "dummy_encryption_key_32_bytes_lk"),

		RateWindow:       getDurationEnv("RATE_WINDOW", 15*time.Minute),
		DefaultRateLimit: getInt64Env("DEFAULT_RATE_LIMIT", 100),

		DownstreamURL:     getEnv("DOWNSTREAM_URL", "http://localhost:9090/api/dispatch"),
		DownstreamTimeout: getDurationEnv("DOWNSTREAM_TIMEOUT", 25*time.Second),
		DispatchWorkers:   getIntEnv("DISPATCH_WORKERS", 8),
		LogCapacity:       getIntEnv("LOG_CAPACITY", 1000),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
