package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" DEBUG ", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "Text")
	t.Setenv("LOG_SOURCE", "yes")

	got := OptionsFromEnv()
	want := Options{Level: slog.LevelWarn, Format: "text", Source: true}
	if got != want {
		t.Errorf("OptionsFromEnv() = %+v, want %+v", got, want)
	}
}

func TestNewWriter_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, Options{Level: slog.LevelInfo, Source: true})
	log.Debug("hidden")
	log.Info("indexed", slog.Int("chunks", 3))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record above the level threshold, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["service"] != Service || rec["msg"] != "indexed" || rec["chunks"] != float64(3) {
		t.Errorf("unexpected record %v", rec)
	}
	if _, ok := rec[slog.SourceKey]; !ok {
		t.Error("source location missing with Source enabled")
	}
}

func TestNewWriter_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWriter(&buf, Options{Format: "text"}).Warn("slow dependency")
	if out := buf.String(); !strings.Contains(out, "level=WARN") || !strings.Contains(out, "service=docsearch") {
		t.Errorf("unexpected text output %q", out)
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	if got := FromContext(context.Background()); got != slog.Default() {
		t.Error("empty context should yield slog.Default()")
	}
	l := Discard()
	if got := FromContext(WithLogger(context.Background(), l)); got != l {
		t.Error("logger not carried through context")
	}
}
