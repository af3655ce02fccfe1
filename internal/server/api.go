package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/docsearch-go/internal/ingestion"
	"github.com/54b3r/docsearch-go/internal/logging"
	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// handleIngest handles POST /api/ingest. A multipart body ingests every part
// named "file"; a JSON body {"path"} ingests a server-side file or folder
// when AllowPathIngest is enabled. The response is the ingestion report,
// including per-file failures.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	s.metrics.ingestActive.Inc()
	defer s.metrics.ingestActive.Dec()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		rep    *ingestion.Report
		status int
		err    error
	)
	switch mediaType {
	case "multipart/form-data":
		rep, status, err = s.ingestUpload(w, r)
	case "application/json":
		rep, status, err = s.ingestPath(r)
	default:
		status, err = http.StatusUnsupportedMediaType, errors.New("expected multipart/form-data or application/json")
	}

	if err != nil {
		s.metrics.ingestRequestsTotal.WithLabelValues(outcomeError).Inc()
		if status >= http.StatusInternalServerError {
			log.Error("ingest failed", slog.Any("error", err))
		}
		// A fatal run still reports what it processed.
		if rep != nil && rep.TotalFiles > 0 {
			writeJSON(w, r, status, struct {
				*ingestion.Report
				Error string `json:"error"`
			}{rep, err.Error()})
			return
		}
		writeError(w, r, status, err.Error())
		return
	}

	s.metrics.ingestRequestsTotal.WithLabelValues(outcomeOK).Inc()
	log.Info("ingest complete",
		slog.Int("total_files", rep.TotalFiles),
		slog.Int("total_chunks", rep.TotalChunks),
		slog.Int("failed_files", rep.Failed()),
	)
	writeJSON(w, r, http.StatusOK, rep)
}

// ingestUpload ingests each uploaded file in order and merges the reports.
func (s *Server) ingestUpload(w http.ResponseWriter, r *http.Request) (*ingestion.Report, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("upload too large")
		}
		return nil, http.StatusBadRequest, errors.New("invalid multipart body")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, http.StatusBadRequest, errors.New(`no "file" parts in upload`)
	}

	merged := &ingestion.Report{Files: []ingestion.FileReport{}}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return merged, http.StatusBadRequest, err
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return merged, http.StatusBadRequest, err
		}

		rep, err := s.deps.Ingester.IngestBytes(r.Context(), filepath.Base(fh.Filename), data)
		mergeReport(merged, rep)
		if err != nil {
			return merged, ingestErrorStatus(err), err
		}
	}
	return merged, http.StatusOK, nil
}

// ingestPath ingests a server-side path named in the JSON body.
func (s *Server) ingestPath(r *http.Request) (*ingestion.Report, int, error) {
	if !s.cfg.AllowPathIngest {
		return nil, http.StatusForbidden, errors.New("path ingestion is disabled")
	}
	var req ingestPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid request body")
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, http.StatusBadRequest, errors.New("path is required")
	}
	rep, err := s.deps.Ingester.IngestPath(r.Context(), filepath.Clean(req.Path), nil)
	if err != nil {
		if rep == nil {
			return nil, http.StatusBadRequest, err
		}
		return rep, ingestErrorStatus(err), err
	}
	return rep, http.StatusOK, nil
}

func mergeReport(dst, src *ingestion.Report) {
	if src == nil {
		return
	}
	dst.TotalFiles += src.TotalFiles
	dst.TotalChunks += src.TotalChunks
	dst.Files = append(dst.Files, src.Files...)
}

// ingestErrorStatus maps a run-fatal ingestion error to a status code.
func ingestErrorStatus(err error) int {
	switch {
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleSearch handles POST /api/search. An empty or missing table yields
// 404; a query with no result above the threshold yields 200 with an empty
// list.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 || (req.Threshold != nil && (*req.Threshold < -1 || *req.Threshold > 1)) {
		writeError(w, r, http.StatusBadRequest, "topK must be >= 0 and threshold within [-1, 1]")
		return
	}
	table := req.Table
	if table == "" {
		table = s.cfg.DefaultTable
	}
	if err := vectorstore.ValidateTable(table); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SearchTimeout)
	defer cancel()
	start := time.Now()
	results, err := s.deps.Searcher.Search(ctx, req.Query, table, vectorstore.SearchOptions{
		TopK:      req.TopK,
		Threshold: req.Threshold,
	})
	s.metrics.searchDurationSeconds.WithLabelValues("documents").Observe(time.Since(start).Seconds())
	s.writeResults(w, r, "documents", results, err)
}

// writeResults renders a search outcome and records it.
func (s *Server) writeResults(w http.ResponseWriter, r *http.Request, kind string, results []vectorstore.Result, err error) {
	log := logging.FromContext(r.Context())
	count := func(outcome string) { s.metrics.searchRequestsTotal.WithLabelValues(kind, outcome).Inc() }

	switch {
	case errors.Is(err, vectorstore.ErrNoData):
		count(outcomeNoData)
		writeError(w, r, http.StatusNotFound, "no data: the table is empty or does not exist")
		return
	case errors.Is(err, context.DeadlineExceeded):
		count(outcomeTimeout)
		writeError(w, r, http.StatusGatewayTimeout, "search timed out")
		return
	case err != nil:
		count(outcomeError)
		log.Error("search failed", slog.String("kind", kind), slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "search failed")
		return
	}

	if len(results) == 0 {
		count(outcomeNoMatch)
	} else {
		count(outcomeOK)
	}
	resp := searchResponse{Results: make([]resultView, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, viewOf(res.Row, res.Similarity))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func viewOf(row vectorstore.Row, similarity float64) resultView {
	return resultView{
		ID:         row.ID,
		Content:    row.Content,
		FileName:   row.FileName,
		PageNumber: row.PageNumber,
		ChunkIndex: row.ChunkIndex,
		Owner:      row.Owner,
		Session:    row.Session,
		Kind:       row.Kind,
		Attributes: row.Attributes,
		CreatedAt:  row.CreatedAt,
		Similarity: similarity,
	}
}
