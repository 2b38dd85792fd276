// Package server exposes link previews over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/linkpreview/cache"
	"github.com/wolfeidau/linkpreview/tag"
	"github.com/wolfeidau/linkpreview/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken, when set, is required as a Bearer token on every route
	// except /healthz and /metrics.
	AuthToken string

	// PublicPreviews lets GET /preview and /preview.json through without
	// the token so a site build can read previews. DELETE /preview and
	// /stats still require it.
	PublicPreviews bool

	// Tag renders previews. Required.
	Tag *tag.Tag

	// Cache enables DELETE /preview and /stats. Optional.
	Cache *cache.Cache

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for link previews.
type Server struct {
	config     Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Tag == nil {
		return nil, errors.New("server requires a tag")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("GET /healthz", s.guard(open, s.handleHealth))

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", s.guard(open, telemetry.PrometheusHandler().ServeHTTP))

	mux.Handle("GET /preview", s.guard(read, s.handlePreview))
	mux.Handle("GET /preview.json", s.guard(read, s.handlePreviewJSON))
	mux.Handle("DELETE /preview", s.guard(admin, s.handleDelete))
	mux.Handle("GET /stats", s.guard(admin, s.handleStats))
}

// Handler returns the server's root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "healthz")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handlePreview renders the HTML fragment for ?url=.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "preview")
	target, ok := targetURL(w, r)
	if !ok {
		return
	}

	fragment := s.config.Tag.RenderURL(r.Context(), target)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(fragment))
}

// handlePreviewJSON returns the record for ?url=. Absent fields are null.
func (s *Server) handlePreviewJSON(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "preview_json")
	target, ok := targetURL(w, r)
	if !ok {
		return
	}

	rec, result := s.config.Tag.Preview(r.Context(), target)
	telemetry.SetCacheResult(r.Context(), result)
	telemetry.RecordRender(r.Context(), result, rec.IsEmpty())

	writeJSON(w, http.StatusOK, rec)
}

// handleDelete drops the cached record for ?url= so the next render refetches.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "preview_delete")
	if s.config.Cache == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "cache not enabled"})
		return
	}
	target, ok := targetURL(w, r)
	if !ok {
		return
	}

	if err := s.config.Cache.Delete(r.Context(), target); err != nil {
		s.logger.Error("deleting cache entry failed", "url", target, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stats struct {
	Entries int       `json:"entries"`
	Empty   int       `json:"empty"`
	Expired int       `json:"expired"`
	Oldest  time.Time `json:"oldest,omitzero"`
	Newest  time.Time `json:"newest,omitzero"`
}

// handleStats handles cache statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "stats")
	if s.config.Cache == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "cache not enabled"})
		return
	}

	entries, err := s.config.Cache.List(r.Context())
	if err != nil {
		s.logger.Error("listing cache entries failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	var st stats
	for _, e := range entries {
		st.Entries++
		if e.Record.IsEmpty() {
			st.Empty++
		}
		if s.config.Cache.Expired(e) {
			st.Expired++
		}
		if st.Oldest.IsZero() || e.CreatedAt.Before(st.Oldest) {
			st.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(st.Newest) {
			st.Newest = e.CreatedAt
		}
	}
	writeJSON(w, http.StatusOK, st)
}

// targetURL reads and validates the url query parameter, writing a 400 when
// it is missing or not an absolute http(s) URL.
func targetURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("url")
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be an absolute http or https URL"})
		return "", false
	}
	telemetry.SetURL(r, raw)
	return raw, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set route, cache_result, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		// Add handler-set tags
		if tags.Route != "" {
			attrs = append(attrs, "route", tags.Route)
		}
		if tags.URL != "" {
			attrs = append(attrs, "url", tags.URL)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}

		if ct := wrapped.Header().Get("Content-Type"); ct != "" {
			attrs = append(attrs, "content_type", ct)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// Unwrap lets http.ResponseController reach the underlying writer.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
