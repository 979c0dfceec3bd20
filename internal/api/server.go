package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/callwatch/callwatch/internal/api/middleware"
	"github.com/callwatch/callwatch/internal/config"
	"github.com/callwatch/callwatch/internal/database"
	"github.com/callwatch/callwatch/internal/monitor"
)

// Monitor is what the API needs from the connection orchestrator.
type Monitor interface {
	Status() monitor.Status
	Healthy() bool
	RefreshExtensions() error
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	store     database.Store
	mon       Monitor
	cfg       *config.Config
	jwtSecret []byte
	metrics   http.Handler

	apiLimiter  *middleware.IPRateLimiter
	authLimiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. metricsHandler
// may be nil, in which case /metrics is not served.
func NewServer(store database.Store, mon Monitor, cfg *config.Config, jwtSecret []byte, metricsHandler http.Handler) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		store:       store,
		mon:         mon,
		cfg:         cfg,
		jwtSecret:   jwtSecret,
		metrics:     metricsHandler,
		apiLimiter:  middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		authLimiter: middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter cleanup goroutines.
func (s *Server) Close() {
	s.apiLimiter.Stop()
	s.authLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.apiLimiter))

		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)

		// Auth endpoints get the stricter limiter on top.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.authLimiter))
			r.Post("/auth/setup", s.handleSetup)
			r.Post("/auth/login", s.handleLogin)
		})

		// Everything else requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.jwtSecret))

			r.Get("/status", s.handleStatus)

			r.Route("/calls", func(r chi.Router) {
				r.Get("/", s.handleListCalls)
				r.Get("/{linkedid}", s.handleGetCall)
			})

			r.Route("/extensions", func(r chi.Router) {
				r.Get("/", s.handleListExtensions)
				r.Post("/", s.handleCreateExtension)
				r.Post("/refresh", s.handleRefreshExtensions)
				r.Get("/{number}", s.handleGetExtension)
				r.Delete("/{number}", s.handleDeleteExtension)
			})
		})
	})
}
