// Package server exposes the parsing pipeline over HTTP: multipart
// upload, document/ballot/job lookups, full-text search, health and
// metrics, plus a websocket endpoint streaming per-stage parse
// progress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civiclab/sopn/internal/config"
	"github.com/civiclab/sopn/internal/export"
	"github.com/civiclab/sopn/internal/pipeline"
	"github.com/civiclab/sopn/internal/search"
	"github.com/civiclab/sopn/internal/store"
)

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	ShutdownTimeout int

	RateLimitEnabled  bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// DefaultConfig returns the server defaults used when no application
// configuration is loaded.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8080,
		CORSOrigin:      "*",
		MaxUploadMB:     50,
		TimeoutSec:      120,
		ShutdownTimeout: 10,
	}
}

// FromConfig maps the application configuration onto server settings.
func FromConfig(app *config.Config) Config {
	cfg := DefaultConfig()
	if app == nil {
		return cfg
	}
	if app.Server.Host != "" {
		cfg.Host = app.Server.Host
	}
	if app.Server.Port != 0 {
		cfg.Port = app.Server.Port
	}
	if app.Server.CORSOrigin != "" {
		cfg.CORSOrigin = app.Server.CORSOrigin
	}
	if app.Server.MaxUploadMB > 0 {
		cfg.MaxUploadMB = int64(app.Server.MaxUploadMB)
	}
	if app.Server.TimeoutSec > 0 {
		cfg.TimeoutSec = app.Server.TimeoutSec
	}
	if app.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = app.Server.ShutdownTimeout
	}
	cfg.RateLimitEnabled = app.Server.RateLimitEnabled
	cfg.RequestsPerMinute = app.Server.RequestsPerMinute
	cfg.RequestsPerHour = app.Server.RequestsPerHour
	cfg.MaxRequestsPerDay = app.Server.MaxRequestsPerDay
	cfg.MaxDataPerDay = app.Server.MaxDataPerDay
	return cfg
}

// Server holds the HTTP server state and dependencies. The pipeline is
// injected and stays owned by the caller.
type Server struct {
	pipeline    *pipeline.Pipeline
	store       *store.Store
	logger      *slog.Logger
	host        string
	port        int
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	shutdownSec int
	rateLimiter *RateLimiter
}

// NewServer creates a server around an already-built pipeline.
func NewServer(cfg Config, pl *pipeline.Pipeline, logger *slog.Logger) (*Server, error) {
	if pl == nil {
		return nil, errors.New("server: pipeline is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		pipeline:    pl,
		store:       pl.Store(),
		logger:      logger.With("component", "server"),
		host:        cfg.Host,
		port:        cfg.Port,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		timeoutSec:  cfg.TimeoutSec,
		shutdownSec: cfg.ShutdownTimeout,
	}
	if cfg.RateLimitEnabled {
		s.rateLimiter = NewRateLimiter(cfg.RequestsPerMinute, cfg.RequestsPerHour,
			cfg.MaxRequestsPerDay, cfg.MaxDataPerDay)
	}
	return s, nil
}

// Handler assembles the route table and middleware chain. CORS sits
// outermost so preflight OPTIONS requests never reach the method
// patterns.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/documents", s.uploadHandler)
	mux.HandleFunc("GET /api/documents", s.listDocumentsHandler)
	mux.HandleFunc("GET /api/documents/{id}", s.getDocumentHandler)
	mux.HandleFunc("GET /api/documents/{id}/ballots", s.documentBallotsHandler)
	mux.HandleFunc("GET /api/ballots", s.listBallotsHandler)
	mux.HandleFunc("GET /api/ballots/{paperID}", s.getBallotHandler)
	mux.HandleFunc("GET /api/jobs/{id}", s.getJobHandler)
	mux.HandleFunc("GET /api/search", s.searchHandler)
	mux.HandleFunc("GET /ws/parse", s.parseWebSocketHandler)

	var h http.Handler = mux
	h = s.metricsMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.rateLimitMiddleware(h)
	h = s.corsMiddleware(h)
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.timeoutSec) * time.Second,
		WriteTimeout:      time.Duration(s.timeoutSec) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.shutdownSec)*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

func (s *Server) maxUploadBytes() int64 {
	return s.maxUploadMB * 1024 * 1024
}

// errorResponse is the JSON body for every error status.
type errorResponse struct {
	Error string `json:"error"`
}

// uploadResponse wraps a parsed upload.
type uploadResponse struct {
	DocumentID string         `json:"document_id"`
	Result     *export.Result `json:"result"`
}

// documentsResponse lists stored documents.
type documentsResponse struct {
	Documents []store.Document `json:"documents"`
	Count     int              `json:"count"`
}

// ballotsResponse lists known ballots.
type ballotsResponse struct {
	Ballots []store.Ballot `json:"ballots"`
	Count   int            `json:"count"`
}

// searchResponse carries full-text hits.
type searchResponse struct {
	Query string       `json:"query"`
	Hits  []search.Hit `json:"hits"`
	Count int          `json:"count"`
}

// healthResponse reports server liveness.
type healthResponse struct {
	Status string         `json:"status"`
	Time   string         `json:"time"`
	Info   map[string]any `json:"info,omitempty"`
}
