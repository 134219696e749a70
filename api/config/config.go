// Package config loads the API service configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full service configuration.
type Config struct {
	// LLM
	Model       string
	Temperature float64
	MaxTokens   int64

	// Logistics database
	PostgresDSN string

	// Conversation persistence
	UseDBCheckpointer bool
	CheckpointDBURI   string // defaults to PostgresDSN when empty

	// Document retrieval (optional)
	Neo4jURI      string
	Neo4jDatabase string
	Neo4jUser     string
	Neo4jPassword string

	// Query audit (optional)
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseSecure   bool

	// Workflow limits
	MaxQueryResults      int
	SmallResultThreshold int
	LimitForLargeResults int
	QueryTimeout         time.Duration
	EnableQueryLogging   bool

	LogLevel string
	Port     string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Model:                getEnv("MODEL_NAME", "claude-haiku-4-5"),
		Temperature:          getEnvFloat("MODEL_TEMPERATURE", 0),
		MaxTokens:            int64(getEnvInt("MODEL_MAX_TOKENS", 4096)),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		UseDBCheckpointer:    getEnvBool("USE_DB_CHECKPOINTER", false),
		CheckpointDBURI:      os.Getenv("CHECKPOINT_DB_URI"),
		Neo4jURI:             os.Getenv("NEO4J_URI"),
		Neo4jDatabase:        getEnv("NEO4J_DATABASE", "neo4j"),
		Neo4jUser:            getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword:        os.Getenv("NEO4J_PASSWORD"),
		ClickHouseAddr:       os.Getenv("CLICKHOUSE_ADDR_TCP"),
		ClickHouseDatabase:   getEnv("CLICKHOUSE_DATABASE", "default"),
		ClickHouseUser:       getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword:   os.Getenv("CLICKHOUSE_PASSWORD"),
		ClickHouseSecure:     getEnvBool("CLICKHOUSE_SECURE", false),
		MaxQueryResults:      getEnvInt("MAX_QUERY_RESULTS", 100),
		SmallResultThreshold: getEnvInt("SMALL_RESULT_THRESHOLD", 50),
		LimitForLargeResults: getEnvInt("LIMIT_FOR_LARGE_RESULTS", 100),
		QueryTimeout:         time.Duration(getEnvInt("QUERY_TIMEOUT_SECONDS", 30)) * time.Second,
		EnableQueryLogging:   getEnvBool("ENABLE_QUERY_LOGGING", true),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Port:                 getEnv("PORT", "8080"),
	}

	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.CheckpointDBURI == "" {
		cfg.CheckpointDBURI = cfg.PostgresDSN
	}
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
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
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
