// Package api provides the HTTP surface of the sync server: health probes,
// the WebSocket entry point and the internal image event hook.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/decksnap/decksnap-sync/internal/auth"
	"github.com/decksnap/decksnap-sync/internal/ws"
)

const (
	// WebSocketRoute is the collaborative editing entry point
	WebSocketRoute = "/api/v1/ws/presentations/{" + ws.PresentationParam + "}"
	// ImageEventsRoute receives image generation events from background workers
	ImageEventsRoute = "/internal/v1/presentations/{" + ws.PresentationParam + "}/image-events"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	checks         []readinessCheck
	metricsHandler http.Handler
	images         ImagePublisher
	internalToken  string
}

type readinessCheck struct {
	name    string
	checker Pinger
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithReadinessCheck registers a dependency that must answer Ping for the
// server to report ready.
func WithReadinessCheck(name string, p Pinger) ServerOption {
	return func(cfg *serverConfig) {
		if p != nil {
			cfg.checks = append(cfg.checks, readinessCheck{name: name, checker: p})
		}
	}
}

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithImageEvents enables the internal image event hook. Requests must carry
// token as a Bearer credential; an empty token rejects every request.
func WithImageEvents(p ImagePublisher, token string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.images = p
		cfg.internalToken = token
	}
}

// NewServer creates the HTTP router. sync serves the WebSocket route.
func NewServer(sync http.Handler, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(cfg.checks))
	r.Get("/version", versionHandler)
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	if sync != nil {
		r.Method(http.MethodGet, WebSocketRoute, sync)
	}

	if cfg.images != nil {
		r.With(auth.RequireServiceToken(cfg.internalToken)).
			Post(ImageEventsRoute, imageEventsHandler(cfg.images))
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
