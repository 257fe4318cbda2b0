package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/civiclab/sopn/internal/convert"
	"github.com/civiclab/sopn/internal/export"
	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/civiclab/sopn/internal/store"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
		Info:   s.pipeline.Info(),
	})
}

// uploadHandler accepts a multipart statement upload, converts and
// parses it, and returns the parsed result.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())

	if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil {
		// Distinguish body-too-large from generic parse error
		if strings.Contains(strings.ToLower(err.Error()), "body too large") {
			s.writeError(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeError(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "No statement file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > s.maxUploadBytes() {
		s.writeError(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	uploadSizeBytes.Observe(float64(header.Size))

	// The original filename is kept so the stored document carries it.
	// filepath.Base strips any path the client smuggled in.
	tmpDir, err := os.MkdirTemp("", "sopn-upload-")
	if err != nil {
		s.writeError(w, "Failed to stage upload", http.StatusInternalServerError)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		s.writeError(w, "Invalid filename", http.StatusBadRequest)
		return
	}
	tmpPath := filepath.Join(tmpDir, name)
	out, err := os.Create(tmpPath) //nolint:gosec // G304: path is rooted in a fresh temp dir
	if err != nil {
		s.writeError(w, "Failed to stage upload", http.StatusInternalServerError)
		return
	}
	if _, err := out.ReadFrom(file); err != nil {
		_ = out.Close()
		s.writeError(w, "Failed to stage upload", http.StatusInternalServerError)
		return
	}
	if err := out.Close(); err != nil {
		s.writeError(w, "Failed to stage upload", http.StatusInternalServerError)
		return
	}

	meta := pipeline.Meta{
		SourceURL:    r.FormValue("source_url"),
		ElectionDate: r.FormValue("election_date"),
		Country:      r.FormValue("country"),
	}
	ballots := splitBallotParam(r.FormValue("ballots"))

	res, err := s.pipeline.ProcessFile(r.Context(), tmpPath, ballots, meta, nil)
	if err != nil {
		var convErr *convert.ConversionError
		if errors.As(err, &convErr) {
			uploadsTotal.WithLabelValues("rejected").Inc()
			s.writeError(w, convErr.Message(), http.StatusBadRequest)
			return
		}
		uploadsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("upload parse failed", "filename", name, "error", err)
		s.writeError(w, fmt.Sprintf("Parsing failed: %v", err), http.StatusInternalServerError)
		return
	}
	uploadsTotal.WithLabelValues("accepted").Inc()

	s.writeJSON(w, http.StatusCreated, uploadResponse{
		DocumentID: res.Document.ID,
		Result:     res.Export(),
	})
}

// listDocumentsHandler lists stored documents.
func (s *Server) listDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, documentsResponse{Documents: docs, Count: len(docs)})
}

// getDocumentHandler returns one document with its parsed contents.
func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, "Document not found", http.StatusNotFound)
			return
		}
		s.writeError(w, "Failed to load document", http.StatusInternalServerError)
		return
	}

	res := &export.Result{Document: doc}
	if res.Ballots, err = s.store.ListDocumentBallots(r.Context(), id); err != nil {
		s.writeError(w, "Failed to load ballots", http.StatusInternalServerError)
		return
	}
	if res.Pages, err = s.store.GetPages(r.Context(), id); err != nil {
		s.writeError(w, "Failed to load pages", http.StatusInternalServerError)
		return
	}
	if res.Candidates, err = s.store.ListCandidates(r.Context(), id); err != nil {
		s.writeError(w, "Failed to load candidates", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// documentBallotsHandler lists a document's ballot links with their
// relevant page ranges.
func (s *Server) documentBallotsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetDocument(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, "Document not found", http.StatusNotFound)
			return
		}
		s.writeError(w, "Failed to load document", http.StatusInternalServerError)
		return
	}
	links, err := s.store.ListDocumentBallots(r.Context(), id)
	if err != nil {
		s.writeError(w, "Failed to load ballots", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Ballots []store.DocumentBallot `json:"ballots"`
		Count   int                    `json:"count"`
	}{Ballots: links, Count: len(links)})
}

// listBallotsHandler lists known ballots.
func (s *Server) listBallotsHandler(w http.ResponseWriter, r *http.Request) {
	ballots, err := s.store.ListBallots(r.Context())
	if err != nil {
		s.writeError(w, "Failed to list ballots", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, ballotsResponse{Ballots: ballots, Count: len(ballots)})
}

// getBallotHandler returns one ballot by ballot paper id.
func (s *Server) getBallotHandler(w http.ResponseWriter, r *http.Request) {
	ballot, err := s.store.GetBallotByPaperID(r.Context(), r.PathValue("paperID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, "Ballot not found", http.StatusNotFound)
			return
		}
		s.writeError(w, "Failed to load ballot", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, ballot)
}

// getJobHandler returns a detection job's status and blocks.
func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, "Job not found", http.StatusNotFound)
			return
		}
		s.writeError(w, "Failed to load job", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// searchHandler runs a full-text query over indexed documents.
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	index := s.pipeline.SearchIndex()
	if index == nil {
		s.writeError(w, "Search index disabled", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, "Missing query parameter 'q'", http.StatusBadRequest)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	hits, err := index.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		s.writeError(w, "Search failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Query: query, Hits: hits, Count: len(hits)})
}

// splitBallotParam splits a comma-separated ballot paper id list.
func splitBallotParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, errorResponse{Error: message})
}
