package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"contextware/internal/vectorstore"
)

// Config holds all configuration for the application.
type Config struct {
	LLMBaseURL   string
	LLMModelName string
	LLMAPIKey    string

	EmbeddingBaseURL   string
	EmbeddingModelName string

	AssistantBaseURL string
	AssistantAPIKey  string

	DBPath string

	// Envs are the configured vector store environments, parsed from the
	// VECTOR_ENVS JSON array.
	Envs []*vectorstore.Env

	// Source is the content API documents are pulled from during sync.
	SourceBaseURL string
	SourceAPIKey  string

	// SyncTemplate renders the embedded text; empty embeds the body alone.
	SyncTemplate    string
	SyncInterval    time.Duration
	SyncBatchSize   int
	SyncLockTTL     time.Duration
	EmbedsPerSecond float64

	FilesDir     string
	FilesBaseURL string

	APIPort   string
	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	// Check current directory first, then walk up to find project root (where go.mod is)
	_ = godotenv.Load() // Try current directory

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ { // Limit search depth
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break // Reached filesystem root
			}
			dir = parent
		}
	}

	cfg := &Config{
		LLMBaseURL:         getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMModelName:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMAPIKey:          getEnv("LLM_API_KEY", ""),
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", getEnv("LLM_BASE_URL", "https://api.openai.com")),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "text-embedding-3-small"),
		AssistantBaseURL:   getEnv("ASSISTANT_BASE_URL", getEnv("LLM_BASE_URL", "https://api.openai.com")),
		AssistantAPIKey:    getEnv("ASSISTANT_API_KEY", getEnv("LLM_API_KEY", "")),
		DBPath:             getEnv("DB_PATH", "./data/contextware.db"),
		SourceBaseURL:      getEnv("SOURCE_BASE_URL", ""),
		SourceAPIKey:       getEnv("SOURCE_API_KEY", ""),
		SyncTemplate:       getEnv("SYNC_TEMPLATE", ""),
		FilesDir:           getEnv("FILES_DIR", "./data/files"),
		FilesBaseURL:       getEnv("FILES_BASE_URL", "/files"),
		APIPort:            getEnv("API_PORT", "9000"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}

	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	envsJSON := getEnv("VECTOR_ENVS", "")
	if envsJSON == "" {
		return nil, fmt.Errorf("VECTOR_ENVS is required")
	}
	if err := json.Unmarshal([]byte(envsJSON), &cfg.Envs); err != nil {
		return nil, fmt.Errorf("VECTOR_ENVS must be a valid JSON array: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Envs))
	for _, env := range cfg.Envs {
		if env.ID == "" {
			return nil, fmt.Errorf("every entry of VECTOR_ENVS needs an id")
		}
		if seen[env.ID] {
			return nil, fmt.Errorf("duplicate environment id %q in VECTOR_ENVS", env.ID)
		}
		seen[env.ID] = true
		if env.Type != "qdrant" && env.Type != "pinecone" {
			return nil, fmt.Errorf("environment %q has unsupported type %q", env.ID, env.Type)
		}
		if env.Server == "" {
			return nil, fmt.Errorf("environment %q needs a server", env.ID)
		}
	}

	cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.SyncLockTTL, err = getDuration("SYNC_LOCK_TTL", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.SyncBatchSize, err = getInt("SYNC_BATCH_SIZE", 1)
	if err != nil {
		return nil, err
	}
	rateStr := getEnv("EMBEDS_PER_SECOND", "2")
	cfg.EmbedsPerSecond, err = strconv.ParseFloat(rateStr, 64)
	if err != nil || cfg.EmbedsPerSecond <= 0 {
		return nil, fmt.Errorf("EMBEDS_PER_SECOND must be a positive number")
	}

	switch strings.ToLower(getEnv("LOG_LEVEL", "info")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	// Create ./data directory if it doesn't exist (for future DB file)
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration: %q", key, value)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %q", key, value)
	}
	return n, nil
}
