package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: ollama
  model: nomic-embed-text
  dimensions: 768
  batch_pause: 500ms
vector:
  backend: qdrant
  allow_recreate: false
  qdrant:
    host: qdrant.internal
    port: 6334
ingest:
  table: manuals
  chunk_size: 800
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS", "EMBEDDING_BATCH_PAUSE",
		"VECTOR_BACKEND", "DOCSEARCH_ALLOW_RECREATE", "QDRANT_HOST", "QDRANT_PORT",
		"DOCSEARCH_TABLE", "CHUNK_SIZE", "CHUNK_OVERLAP",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"EMBEDDING_DIMENSIONS":     "768",
		"EMBEDDING_BATCH_PAUSE":    "500ms",
		"VECTOR_BACKEND":           "qdrant",
		"DOCSEARCH_ALLOW_RECREATE": "false",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"DOCSEARCH_TABLE":          "manuals",
		"CHUNK_SIZE":               "800",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if _, set := os.LookupEnv("CHUNK_OVERLAP"); set {
		t.Error("CHUNK_OVERLAP should stay unset when absent from YAML")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
vector:
  backend: postgres
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it should NOT be overwritten.
	t.Setenv("VECTOR_BACKEND", "sqlite")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("VECTOR_BACKEND"); got != "sqlite" {
		t.Errorf("VECTOR_BACKEND: expected env override %q, got %q", "sqlite", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("EMBEDDING_MODEL=from-dotenv\nDOCSEARCH_TABLE=dotenv_table\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EMBEDDING_MODEL", "from-env")
	t.Setenv("DOCSEARCH_TABLE", "")
	os.Unsetenv("DOCSEARCH_TABLE")

	if err := LoadDotEnv(envPath, slog.Default()); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("EMBEDDING_MODEL"); got != "from-env" {
		t.Errorf("EMBEDDING_MODEL overridden: %q", got)
	}
	if got := os.Getenv("DOCSEARCH_TABLE"); got != "dotenv_table" {
		t.Errorf("DOCSEARCH_TABLE = %q", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), slog.Default()); err != nil {
		t.Errorf("missing file should be ignored: %v", err)
	}
}

func TestOptBoolStr(t *testing.T) {
	t.Parallel()

	no, yes := false, true
	tests := []struct {
		in   *bool
		want string
	}{
		{nil, ""},
		{&no, "false"},
		{&yes, "true"},
	}
	for _, tt := range tests {
		if got := optBoolStr(tt.in); got != tt.want {
			t.Errorf("optBoolStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
