package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	name string
	err  error
	// before, when set, runs at the start of Ping.
	before func(ctx context.Context) error
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.before != nil {
		if err := f.before(ctx); err != nil {
			return err
		}
	}
	return f.err
}

// newReadyTestServer builds a *Server with the given pingers wired in.
func newReadyTestServer(pingers ...Pinger) *Server {
	s := newTestServer()
	s.pingers = pingers
	return s
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d, body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if body["status"] != "ok" || body["version"] == "" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantReady  bool
		wantOK     []bool
	}{
		{name: "no pingers", wantStatus: http.StatusOK, wantReady: true, wantOK: []bool{}},
		{
			name:       "all healthy",
			pingers:    []Pinger{&fakePinger{name: "postgres"}, &fakePinger{name: "ollama"}},
			wantStatus: http.StatusOK, wantReady: true, wantOK: []bool{true, true},
		},
		{
			name:       "one failing",
			pingers:    []Pinger{&fakePinger{name: "postgres"}, &fakePinger{name: "ollama", err: errors.New("connection refused")}},
			wantStatus: http.StatusServiceUnavailable, wantOK: []bool{true, false},
		},
		{
			name:       "all failing",
			pingers:    []Pinger{&fakePinger{name: "qdrant", err: errors.New("timeout")}, &fakePinger{name: "ollama", err: errors.New("down")}},
			wantStatus: http.StatusServiceUnavailable, wantOK: []bool{false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newReadyTestServer(tt.pingers...)
			w := httptest.NewRecorder()
			s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp readyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Ready != tt.wantReady || len(resp.Checks) != len(tt.wantOK) {
				t.Fatalf("unexpected response %+v", resp)
			}
			for i, c := range resp.Checks {
				if c.Name != tt.pingers[i].Name() {
					t.Errorf("check %d: name %q, want %q (order must be preserved)", i, c.Name, tt.pingers[i].Name())
				}
				if c.OK != tt.wantOK[i] || (c.Error == "") != c.OK {
					t.Errorf("check %q: %+v", c.Name, c)
				}
			}
		})
	}
}

// TestHandleReady_ChecksRunConcurrently wires two pingers where the first
// can only succeed once the second has started.
func TestHandleReady_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	waiter := &fakePinger{name: "postgres", before: func(ctx context.Context) error {
		select {
		case <-started:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	signaller := &fakePinger{name: "ollama", before: func(context.Context) error {
		close(started)
		return nil
	}}

	s := newReadyTestServer(waiter, signaller)
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
