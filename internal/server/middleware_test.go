package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/docsearch-go/internal/logging"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		inbound   string
		status    int
		wantReuse bool
		wantLevel string
	}{
		{name: "minted id", status: http.StatusOK, wantLevel: "INFO"},
		{name: "reused id", inbound: "abc-123_X", status: http.StatusOK, wantReuse: true, wantLevel: "INFO"},
		{name: "unsafe id replaced", inbound: "bad id\n", status: http.StatusOK, wantLevel: "INFO"},
		{name: "oversized id replaced", inbound: strings.Repeat("a", maxRequestIDLen+1), status: http.StatusOK, wantLevel: "INFO"},
		{name: "client error", status: http.StatusNotFound, wantLevel: "WARN"},
		{name: "server error", status: http.StatusInternalServerError, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			base := slog.New(slog.NewJSONHandler(&buf, nil))
			var seen *slog.Logger
			h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logging.FromContext(r.Context())
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("hello"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tt.inbound != "" {
				req.Header.Set(requestIDHeader, tt.inbound)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			id := w.Header().Get(requestIDHeader)
			if id == "" {
				t.Fatal("response carries no request id")
			}
			if (id == tt.inbound) != tt.wantReuse {
				t.Errorf("request id %q, inbound %q, reuse want %v", id, tt.inbound, tt.wantReuse)
			}
			if seen == nil || seen == slog.Default() {
				t.Error("handler did not receive a request-scoped logger")
			}

			var rec map[string]any
			if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
				t.Fatalf("decode log line %q: %v", buf.String(), err)
			}
			if rec["level"] != tt.wantLevel || rec["request_id"] != id {
				t.Errorf("log record %v", rec)
			}
			if rec["response_bytes"] != float64(5) {
				t.Errorf("response_bytes = %v, want 5", rec["response_bytes"])
			}
		})
	}
}

func TestResponseWriter_Unwrap(t *testing.T) {
	t.Parallel()

	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
	if rw.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped writer")
	}
}
