package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/tripfeed/internal/middleware"
)

// RouterConfig holds the handlers and middleware collaborators of the API.
type RouterConfig struct {
	Feed         *FeedHandlers
	Chat         *ChatHandlers
	Interactions *InteractionHandlers
	Health       *HealthHandlers

	// Auth resolves bearer tokens. The feed and chat accept anonymous
	// callers; interactions require a user.
	Auth middleware.Authenticator

	// RateLimits is nil to disable rate limiting.
	RateLimits       middleware.RateLimitStore
	GlobalLimit      middleware.RateLimitConfig
	ChatLimit        middleware.RateLimitConfig
	InteractionLimit middleware.RateLimitConfig

	CORSOrigins []string

	// RequestTimeout sets a deadline on every /v1 request. Zero disables it.
	RequestTimeout time.Duration

	Logger      *slog.Logger
	Metrics     *middleware.Metrics
	Gatherer    prometheus.Gatherer
	ServiceName string
	Tracing     bool
	// Profiling mounts /debug/pprof. Development only.
	Profiling bool
}

// NewRouter builds the HTTP handler:
//
//	GET  /v1/feed?lat&lng&month
//	POST /v1/chat
//	POST /v1/interactions
//	GET  /health, /ready, /metrics
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.Tracing {
		r.Use(middleware.Tracing(cfg.ServiceName))
	}
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.HTTPMetrics(cfg.Metrics))
	r.Use(chimiddleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeCodedError(w, req, ErrCodeNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeCodedError(w, req, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Profiling {
		r.Mount("/debug", chimiddleware.Profiler())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}
		if cfg.RateLimits != nil {
			r.Use(middleware.RateLimiter(cfg.RateLimits, cfg.GlobalLimit, middleware.IPKeyFunc(), cfg.Metrics))
		}

		if cfg.Feed != nil {
			r.With(middleware.Auth(cfg.Auth, false)).Get("/feed", cfg.Feed.GetFeed)
		}
		if cfg.Chat != nil {
			r.With(
				middleware.Auth(cfg.Auth, false),
				limiter(cfg, cfg.ChatLimit),
			).Post("/chat", cfg.Chat.PostChat)
		}
		if cfg.Interactions != nil {
			r.With(
				middleware.Auth(cfg.Auth, true),
				limiter(cfg, cfg.InteractionLimit),
			).Post("/interactions", cfg.Interactions.PostInteraction)
		}
	})

	return r
}

// limiter returns a per-user limiter for one route, or a no-op when rate
// limiting is disabled.
func limiter(cfg RouterConfig, limit middleware.RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RateLimits == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimiter(cfg.RateLimits, limit, middleware.UserKeyFunc(), cfg.Metrics)
}
