package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application. Environment variables
// are read here and nowhere else.
type Config struct {
	Env string `validate:"oneof=development staging production"`

	// Backing store connection string (postgres://...).
	DatabaseURL string `validate:"required"`

	// Optional directory of schema catalog overrides. When empty the
	// embedded catalog is used.
	SchemaDir string

	// Staleness window override in days. Zero means use the per-kind
	// value from the schema catalog.
	StaleDays int `validate:"min=0"`

	LogLevel  string `validate:"oneof=debug info warn warning error fatal"`
	LogFormat string `validate:"oneof=json console pretty"`
}

// Load reads configuration from the environment, after loading an optional
// env file. envFile may be empty, in which case .env is tried if present.
func Load(envFile string) (*Config, error) {
	loadEnvFile(envFile)

	cfg := &Config{
		Env:         getEnv("QS_ENV", "development"),
		DatabaseURL: getEnv("QS_DATABASE_URL", os.Getenv("DATABASE_URL")),
		SchemaDir:   getEnv("QS_SCHEMA_DIR", ""),
		StaleDays:   getEnvAsInt("QS_STALE_DAYS", 0),
		LogLevel:    getEnv("QS_LOG_LEVEL", "info"),
		LogFormat:   getEnv("QS_LOG_FORMAT", "console"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadEnvFile loads the named env file, or searches the usual locations
// when none is given. A missing file is not an error.
func loadEnvFile(envFile string) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
		return
	}
	paths := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), ".env"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
