package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"livewatch/internal/observability/logging"
	"livewatch/internal/observability/metrics"
)

const requestIDHeader = "X-Request-ID"

// RouterConfig wires the middleware stack around a Handler.
type RouterConfig struct {
	Handler        *Handler
	Logger         *slog.Logger
	Metrics        *metrics.Recorder
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	// Now overrides the rate limiter clock in tests.
	Now func() time.Time
}

// NewRouter mounts every route behind request IDs, logging, metrics, CORS
// and panic recovery. Routes under /v1 are also rate limited.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := cfg.Handler

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID(logger))
	r.Use(logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger}))
	r.Use(metrics.Middleware(recorder))
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limiter := newRateLimiter(cfg.RateLimit, cfg.Now)
	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", recorder.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(limiter.middleware(logger))
		r.Route("/channels/{channelID}", func(r chi.Router) {
			r.Get("/active-input", h.ActiveInput)
			r.Post("/invalidate", h.Invalidate)
			r.Get("/linkage", h.Linkage)
		})
		r.Get("/resources", h.Resources)
		r.Post("/cache/clear", h.ClearCache)
	})
	return r
}

// requestID propagates an inbound X-Request-ID or mints a UUID, and stores a
// request-scoped logger on the context.
func requestID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if id == "" || len(id) > 128 {
				id = uuid.New().String()
			}
			w.Header().Set(requestIDHeader, id)
			ctx := logging.ContextWithRequestID(r.Context(), id)
			ctx = logging.ContextWithLogger(ctx, logging.WithContext(ctx, logging.WithComponent(logger, "api")))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
