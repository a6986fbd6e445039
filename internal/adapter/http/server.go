package http

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/hydromap/internal/observability"
	"github.com/couchcryptid/hydromap/internal/samples"
	"github.com/couchcryptid/hydromap/internal/viewer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Viewer builds topology views from bundled samples or uploads.
type Viewer interface {
	FromSample(ctx context.Context, name string) (*viewer.View, error)
	FromUpload(ctx context.Context, up viewer.Upload) (*viewer.View, error)
}

// Server exposes the viewer pages plus health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	viewer     Viewer
	maxUpload  int64
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /, /view, /healthz, /readyz, and
// /metrics routes. Uploads larger than maxUpload bytes are rejected.
func NewServer(addr string, v Viewer, ready ReadinessChecker, maxUpload int64, metrics *observability.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		viewer:    v,
		maxUpload: maxUpload,
		metrics:   metrics,
		logger:    logger,
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /view", s.handleView)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type page struct {
	Samples  []string
	Selected string
	Message  string
	View     *viewer.View
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.writePage(w, http.StatusOK, page{Samples: samples.Names(), Selected: samples.Default})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	p := page{Samples: samples.Names(), Selected: samples.Default}

	view, source, err := s.buildView(w, r, &p)
	s.metrics.ViewRequests.WithLabelValues(source).Inc()
	if err != nil {
		kind := viewer.KindOf(err)
		s.metrics.ViewErrors.WithLabelValues(string(kind)).Inc()
		s.logger.Warn("view failed", "source", source, "kind", kind, "error", err)
		p.Message = viewer.GenericMessage
		s.writePage(w, statusFor(kind), p)
		return
	}
	p.View = view
	s.writePage(w, http.StatusOK, p)
}

// buildView loads the uploaded file when one is present, otherwise the
// selected sample. It returns the source label used for metrics.
func (s *Server) buildView(w http.ResponseWriter, r *http.Request, p *page) (*viewer.View, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	// A plain urlencoded form only selects a sample.
	if err := r.ParseMultipartForm(s.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, "upload", &viewer.ViewError{Kind: viewer.KindUpload, Err: err}
	}
	if name := r.FormValue("sample"); name != "" {
		p.Selected = name
	}

	file, header, err := r.FormFile("network")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		v, err := s.viewer.FromSample(r.Context(), p.Selected)
		return v, "sample", err
	case err != nil:
		return nil, "upload", &viewer.ViewError{Kind: viewer.KindUpload, Err: err}
	}
	defer file.Close()
	v, err := s.viewer.FromUpload(r.Context(), viewer.Upload{Filename: header.Filename, Body: file})
	return v, "upload", err
}

func statusFor(kind viewer.Kind) int {
	switch kind {
	case viewer.KindUpload:
		return http.StatusBadRequest
	case viewer.KindSample:
		return http.StatusNotFound
	case viewer.KindParse:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writePage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, p); err != nil {
		s.logger.Error("render page", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
