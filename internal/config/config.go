package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    slog.Level

	DatabaseURL string
	RedisURL    string

	// Comma-separated broker list; empty disables the Kafka mirror.
	KafkaBrokers []string

	// Export tuning
	ExportSyncRowLimit int
	ExportWorkerCount  int
	ExportMaxAttempts  int
}

// LoadConfig reads configuration from the environment, with a .env file as
// fallback for local development.
func LoadConfig() (*Config, error) {
	// Best effort; production supplies real environment variables.
	_ = godotenv.Load()

	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ExportSyncRowLimit: getEnvInt("EXPORT_SYNC_ROW_LIMIT", 1000),
		ExportWorkerCount:  getEnvInt("EXPORT_WORKER_COUNT", 2),
		ExportMaxAttempts:  getEnvInt("EXPORT_MAX_ATTEMPTS", 3),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	switch strings.ToLower(getEnv("LOG_LEVEL", "info")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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
