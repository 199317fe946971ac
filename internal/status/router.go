// Package status serves the obexd status endpoint: health probes,
// Prometheus metrics and JSON views of the engine's connections, its
// suspended sessions and the inbox contents.
package status

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/obexd/internal/inbox"
	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/session"
)

// CheckTimeout bounds every call into the engine or the session store.
const CheckTimeout = 5 * time.Second

// Engine is the part of the engine the endpoint reads.
type Engine interface {
	Do(ctx context.Context, f func() error) error
	Connections(ctx context.Context) ([]engine.ConnInfo, error)
	Suspended(ctx context.Context) ([]session.Entry, error)
}

// Healthchecker is implemented by session stores that can probe their
// backend.
type Healthchecker interface {
	Healthcheck(ctx context.Context) error
}

// Deps are the components behind the routes. Only Engine is required.
type Deps struct {
	Engine   Engine
	Inbox    *inbox.Inbox
	Store    Healthchecker
	Registry *prometheus.Registry
}

type handler struct {
	deps  Deps
	start time.Time
}

// NewRouter builds the chi router.
//
// Routes:
//   - GET /health        liveness
//   - GET /health/ready  event loop and session store responsive
//   - GET /metrics       Prometheus exposition, when a registry is set
//   - GET /connections   live connections
//   - GET /sessions      suspended reliable sessions
//   - GET /objects       inbox contents, when an inbox is set
func NewRouter(deps Deps) http.Handler {
	h := &handler{deps: deps, start: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.liveness)
		r.Get("/ready", h.readiness)
	})
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/connections", h.connections)
	r.Get("/sessions", h.sessions)
	if deps.Inbox != nil {
		r.Get("/objects", h.objects)
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})
	return r
}

func (h *handler) liveness(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Since(h.start)
	writeJSON(w, http.StatusOK, healthy(map[string]any{
		"service":    "obexd",
		"started_at": h.start.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

func (h *handler) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
	defer cancel()

	start := time.Now()
	if err := h.deps.Engine.Do(ctx, func() error { return nil }); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthy("engine: "+err.Error()))
		return
	}
	loop := time.Since(start)

	if h.deps.Store != nil {
		if err := h.deps.Store.Healthcheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, unhealthy("session store: "+err.Error()))
			return
		}
	}
	writeJSON(w, http.StatusOK, healthy(map[string]any{
		"engine_latency": loop.String(),
	}))
}

func (h *handler) connections(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
	defer cancel()
	conns, err := h.deps.Engine.Connections(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, failed(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, ok(conns))
}

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
	defer cancel()
	entries, err := h.deps.Engine.Suspended(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, failed(err.Error()))
		return
	}
	out := make([]SuspendedSession, 0, len(entries))
	for _, e := range entries {
		out = append(out, suspendedView(e))
	}
	writeJSON(w, http.StatusOK, ok(out))
}

func (h *handler) objects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ok(h.deps.Inbox.Store().List()))
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}

// requestLogger logs each request with the logger, probes at DEBUG.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		args := []any{
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, float64(time.Since(start).Microseconds()) / 1000,
		}
		if isHealthPath(r.URL.Path) {
			logger.Debug("Status request completed", args...)
		} else {
			logger.Info("Status request completed", args...)
		}
	})
}
