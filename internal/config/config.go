// Package config provides layered configuration for docsearch.
// Precedence is: defaults → YAML file → .env file → environment variables.
// Values that are already set in the environment are never overwritten, so the
// YAML and .env layers only fill gaps.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCSEARCH_CONFIG environment variable
//  3. ~/.docsearch/config.yaml
//  4. ./docsearch.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Vector configures the vector store backend.
	Vector VectorConfig `yaml:"vector"`

	// Ingest configures tables and chunking.
	Ingest IngestConfig `yaml:"ingest"`

	// OCR configures scanned-PDF recognition.
	OCR OCRConfig `yaml:"ocr"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: gemini, openai, azure, ollama.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the expected vector length.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint overrides the provider base URL.
	Endpoint string `yaml:"endpoint"`
	// BatchSize is the number of texts embedded concurrently.
	BatchSize int `yaml:"batch_size"`
	// BatchPause is the pause between batches, as a Go duration ("200ms").
	BatchPause string `yaml:"batch_pause"`
	// CachePath enables the on-disk embedding cache.
	CachePath string `yaml:"cache_path"`
}

// VectorConfig holds vector store settings.
type VectorConfig struct {
	// Backend selects the store: postgres, sqlite, qdrant, memory.
	Backend string `yaml:"backend"`
	// DatabaseURL is the Postgres DSN. Prefer env var DATABASE_URL.
	DatabaseURL string `yaml:"database_url"`
	// SQLitePath is the SQLite database file.
	SQLitePath string `yaml:"sqlite_path"`
	// AllowRecreate gates the destructive table recreate on dimension
	// mismatch. Nil leaves the default (enabled).
	AllowRecreate *bool `yaml:"allow_recreate"`
	// Qdrant holds Qdrant connection settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// IngestConfig holds table and chunking settings.
type IngestConfig struct {
	Table        string `yaml:"table"`
	MemoryTable  string `yaml:"memory_table"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// OCRConfig holds OCR settings.
type OCRConfig struct {
	// Provider is gemini or none.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// APIKey is the Bearer token for API authentication. Prefer env var DOCSEARCH_API_KEY.
	APIKey string `yaml:"api_key"`
	// AllowPathIngest lets POST /api/ingest read server-side paths.
	AllowPathIngest bool `yaml:"allow_path_ingest"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBEDDING_BATCH_PAUSE", func(c *Config) string { return c.Embedding.BatchPause }},
	{"EMBEDDING_CACHE_PATH", func(c *Config) string { return c.Embedding.CachePath }},
	{"VECTOR_BACKEND", func(c *Config) string { return c.Vector.Backend }},
	{"DATABASE_URL", func(c *Config) string { return c.Vector.DatabaseURL }},
	{"SQLITE_PATH", func(c *Config) string { return c.Vector.SQLitePath }},
	{"DOCSEARCH_ALLOW_RECREATE", func(c *Config) string { return optBoolStr(c.Vector.AllowRecreate) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Vector.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Vector.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Vector.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Vector.Qdrant.TLS) }},
	{"DOCSEARCH_TABLE", func(c *Config) string { return c.Ingest.Table }},
	{"DOCSEARCH_MEMORY_TABLE", func(c *Config) string { return c.Ingest.MemoryTable }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Ingest.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Ingest.ChunkOverlap) }},
	{"OCR_PROVIDER", func(c *Config) string { return c.OCR.Provider }},
	{"OCR_MODEL", func(c *Config) string { return c.OCR.Model }},
	{"DOCSEARCH_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"DOCSEARCH_ALLOW_PATH_INGEST", func(c *Config) string { return boolStr(c.Server.AllowPathIngest) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue // env var already set, do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path (default ./.env) into the
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string, log *slog.Logger) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCSEARCH_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docsearch", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docsearch.yaml"); err == nil {
		return "docsearch.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

// optBoolStr renders an explicitly set bool, including false.
func optBoolStr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
