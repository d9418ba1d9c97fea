// Package api exposes the orbit design operations as a JSON HTTP API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/auth"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/cache"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/health"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/metrics"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/overlay"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/stream"
)

// Limits bounds the work a single synchronous request may do.
type Limits struct {
	MaxSamples    int // Samples per propagation, optimizer timeline or overlay track.
	MaxSatellites int
	MaxRounds     int
	Workers       int // Pool workers for POST /api/v1/optimize.

	// MaxWork caps (rounds+1) × satellites × samples for POST /api/v1/optimize.
	MaxWork int
	// OptimizeTimeout bounds a synchronous optimizer run. The response write
	// deadline is extended to cover it.
	OptimizeTimeout time.Duration
}

const (
	defaultMaxWork         = 50_000_000
	defaultOptimizeTimeout = 2 * time.Minute
)

func (l Limits) withDefaults() Limits {
	if l.MaxWork <= 0 {
		l.MaxWork = defaultMaxWork
	}
	if l.OptimizeTimeout <= 0 {
		l.OptimizeTimeout = defaultOptimizeTimeout
	}
	return l
}

// Options carries the server's dependencies. Catalog may be nil, in which
// case overlays accept inline TLE text only.
type Options struct {
	Addr    string
	Auth    auth.Config
	Limits  Limits
	Cache   *cache.PropagationCache
	Catalog *overlay.Catalog
	Overlay overlay.Provider
	Stream  *stream.Handler
	Probe   *health.Probe
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(opts Options, logger *slog.Logger) *Server {
	h := &handlers{
		limits:  opts.Limits.withDefaults(),
		cache:   opts.Cache,
		catalog: opts.Catalog,
		overlay: opts.Overlay,
		logger:  logger,
		now:     time.Now,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", opts.Probe.Healthz)
	mux.HandleFunc("GET /readyz", opts.Probe.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/propagate", h.propagate)
	mux.HandleFunc("POST /api/v1/link", h.link)
	mux.HandleFunc("POST /api/v1/resonances", h.resonances)
	mux.HandleFunc("POST /api/v1/walker", h.walker)
	mux.HandleFunc("POST /api/v1/optimize", h.optimize)
	mux.HandleFunc("POST /api/v1/overlay", h.overlayTracks)
	mux.HandleFunc("POST /api/v1/overlay/refresh", h.overlayRefresh)
	mux.HandleFunc("GET /api/v1/cache/stats", h.cacheStats)
	mux.HandleFunc("GET /api/v1/stream/optimize", opts.Stream.HandleOptimize)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(opts.Auth, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Probe traffic is logged at debug level so it does not drown out API calls.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

const requestIDHeader = "X-Request-ID"

// requestID reuses a caller-supplied id of sane length and otherwise mints one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" && len(id) <= 64 {
		return id
	}
	return uuid.NewString()
}

// statusRecorder captures the status code and body size for the access log.
// It forwards Flush so the optimizer stream still works behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)
			w.Header().Set(requestIDHeader, id)
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			switch {
			case probePath(r.URL.Path):
				level = slog.LevelDebug
			case sr.status >= http.StatusInternalServerError:
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
				"bytes", sr.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
