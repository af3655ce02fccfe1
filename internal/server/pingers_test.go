package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPPinger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "unauthorised still reachable", status: http.StatusUnauthorized},
		{name: "server error", status: http.StatusServiceUnavailable, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(srv.Close)

			p := NewHTTPPinger("ollama", srv.URL, nil)
			if p.Name() != "ollama" {
				t.Errorf("Name() = %q", p.Name())
			}
			err := p.Ping(t.Context())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPPinger_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := NewHTTPPinger("ollama", url, nil).Ping(t.Context()); err == nil {
		t.Error("expected error for closed server")
	}
}
