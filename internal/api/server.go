package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashen-peak/logtide/internal/broadcast"
	"github.com/ashen-peak/logtide/internal/metrics"
	"github.com/ashen-peak/logtide/internal/storage"
)

// Poller triggers a poll cycle on demand.
type Poller interface {
	PollOnce(ctx context.Context, connectionID string) error
}

// Analyzer triggers an analysis batch on demand. A non-positive limit
// uses the analyzer's configured batch size.
type Analyzer interface {
	RunOnce(ctx context.Context, limit int) (int, error)
}

// Config contains HTTP API server configuration.
type Config struct {
	Address           string
	JWTSecret         []byte
	AccessTokenTTL    time.Duration
	StreamMaxDuration time.Duration // Max lifetime for stream connections
	RequestTimeout    time.Duration // Timeout for storage-backed API calls
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.StreamMaxDuration == 0 {
		c.StreamMaxDuration = 30 * time.Minute
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config   *Config
	store    storage.Store
	registry *broadcast.Registry
	poller   Poller
	analyzer Analyzer
	jwt      *JWTService
	logger   *log.Logger
	server   *http.Server
}

// New creates a new API server.
func New(config *Config, store storage.Store, registry *broadcast.Registry, poller Poller, analyzer Analyzer, logger *log.Logger) *Server {
	config.SetDefaults()
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		config:   config,
		store:    store,
		registry: registry,
		poller:   poller,
		analyzer: analyzer,
		jwt:      NewJWTService(config.JWTSecret, config.AccessTokenTTL),
		logger:   logger,
	}
	s.server = &http.Server{
		Addr:    config.Address,
		Handler: s.setupRouter(),
		// No WriteTimeout: SSE streams outlive any fixed deadline and
		// carry their own max duration.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// JWT returns the server's token service.
func (s *Server) JWT() *JWTService { return s.jwt }

// Handler returns the configured router, for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(requestMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(JWTAuth(s.jwt))

		r.Get("/stats", s.Stats)
		r.Get("/projects/{projectID}/stream", s.Stream)
		r.Get("/projects/{projectID}/alerts", s.ListAlerts)
		r.Post("/connections/{connectionID}/poll", s.TriggerPoll)
		r.Post("/analyze", s.TriggerAnalyze)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics records request counts and latency per route pattern.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start() error {
	s.logger.Printf("api: listening on %s", s.config.Address)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Printf("api: shutting down")
	return s.server.Shutdown(ctx)
}
