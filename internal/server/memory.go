package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/docsearch-go/internal/logging"
	"github.com/54b3r/docsearch-go/internal/memory"
)

// maxRecent caps GET /api/memory/recent.
const maxRecent = 200

// handleMemorySave handles POST /api/memory. A body with content saves a
// turn; a body with fields saves a record.
func (s *Server) handleMemorySave(w http.ResponseWriter, r *http.Request) {
	var req memorySaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		writeError(w, r, http.StatusBadRequest, "owner is required")
		return
	}
	hasContent, hasFields := strings.TrimSpace(req.Content) != "", len(req.Fields) > 0
	if hasContent == hasFields {
		writeError(w, r, http.StatusBadRequest, "exactly one of content or fields is required")
		return
	}

	var (
		saved memory.Saved
		err   error
	)
	if hasContent {
		saved, err = s.deps.Memory.SaveTurn(r.Context(), memory.Turn{
			Owner:    req.Owner,
			Session:  req.Session,
			Kind:     req.Kind,
			Content:  req.Content,
			Metadata: req.Metadata,
		})
	} else {
		saved, err = s.deps.Memory.SaveRecord(r.Context(), memory.Record{
			Owner:  req.Owner,
			Source: req.Session,
			Row:    req.Row,
			Fields: req.Fields,
		})
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("memory save failed", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, r, http.StatusCreated, saved)
}

// handleMemorySearch handles POST /api/memory/search.
func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	var req memorySearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SearchTimeout)
	defer cancel()
	start := time.Now()
	results, err := s.deps.Memory.Search(ctx, req.Query, req.Options)
	s.metrics.searchDurationSeconds.WithLabelValues("memory").Observe(time.Since(start).Seconds())
	s.writeResults(w, r, "memory", results, err)
}

// handleMemoryRecent handles GET /api/memory/recent?owner=&session=&kind=&n=.
func (s *Server) handleMemoryRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := memory.Options{
		Owner:   q.Get("owner"),
		Session: q.Get("session"),
		Kind:    q.Get("kind"),
	}
	n := memory.DefaultTopK
	if raw := q.Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, r, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(v, maxRecent)
	}

	rows, err := s.deps.Memory.Recent(r.Context(), opts, n)
	if err != nil {
		logging.FromContext(r.Context()).Error("memory recent failed", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "recent failed")
		return
	}
	resp := memoryRecentResponse{Entries: make([]resultView, 0, len(rows))}
	for _, row := range rows {
		resp.Entries = append(resp.Entries, viewOf(row, 0))
	}
	writeJSON(w, r, http.StatusOK, resp)
}
