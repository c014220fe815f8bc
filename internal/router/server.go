// Package router provides the HTTP gateway that fronts the remote API for
// foreground contexts: it intercepts read requests and serves them through
// the cache strategies, passes everything else through to the origin, and
// exposes the cross-context command endpoints.
package router

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/steeveross-eng/huntiq-sync/internal/bus"
	"github.com/steeveross-eng/huntiq-sync/internal/cache"
	"github.com/steeveross-eng/huntiq-sync/internal/logger"
	"github.com/steeveross-eng/huntiq-sync/internal/store"
)

// ServerOption configures the gateway server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler mounts a metrics scrape endpoint at /metrics. A nil
// handler leaves the route unmounted.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// DeadLetterLister exposes dead-lettered outbox records for inspection.
type DeadLetterLister interface {
	ListDeadLetters(ctx context.Context) ([]store.DeadLetter, error)
}

// NewServer creates and configures the HTTP gateway.
//
// Route classification follows a static prefix match: paths under an entry
// of apiRoutes are served network-first, everything else cache-first. A path
// matching both resolves to network-first. Only GET requests are
// intercepted; other methods are reverse-proxied to the origin untouched.
func NewServer(
	manager *cache.Manager,
	messageBus *bus.Bus,
	letters DeadLetterLister,
	origin *url.URL,
	apiRoutes []string,
	opts ...ServerOption,
) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	g := &gateway{
		manager:   manager,
		bus:       messageBus,
		letters:   letters,
		apiRoutes: apiRoutes,
		proxy:     newOriginProxy(origin),
	}

	r.Get("/healthz", healthHandler)
	r.Post("/sync/commands", g.commandHandler)
	r.Get("/sync/status", g.statusHandler)
	r.Get("/sync/events", g.eventsHandler)
	r.Get("/sync/deadletters", g.deadLettersHandler)
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	// Everything else is foreground traffic destined for the origin.
	r.NotFound(g.serveOrigin)

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debugf("HTTP %s %s %d %s %s",
			r.Method,
			r.URL.Path,
			ww.Status(),
			time.Since(start),
			middleware.GetReqID(r.Context()),
		)
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type gateway struct {
	manager   *cache.Manager
	bus       *bus.Bus
	letters   DeadLetterLister
	apiRoutes []string
	proxy     *httputil.ReverseProxy
}

// classify resolves a request path to a caching strategy.
func (g *gateway) classify(path string) string {
	for _, prefix := range g.apiRoutes {
		if strings.HasPrefix(path, prefix) {
			return cache.StrategyNetworkFirst
		}
	}
	return cache.StrategyCacheFirst
}

func newOriginProxy(origin *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(origin)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warnf("Origin proxy error for %s %s: %v", r.Method, r.URL.Path, err)
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}
