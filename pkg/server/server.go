// Package server exposes the fabric over HTTP: the JSON-RPC endpoint with
// SSE streaming, the well-known agent card, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/router"
	"github.com/agentfabric/fabric/pkg/task"
	"github.com/agentfabric/fabric/pkg/version"
)

// AuthValidator authorizes a request for the authenticated extended card.
type AuthValidator func(r *http.Request) error

// Config tunes the HTTP server.
type Config struct {
	Host string
	Port int
	// ReadTimeout / WriteTimeout bound slow clients. Streaming responses
	// disable the write timeout per-request.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
}

// Server is the fabric's HTTP surface.
type Server struct {
	cfg     Config
	router  *router.Router
	tasks   *task.Manager
	card    *a2a.AgentCard
	logger  *slog.Logger
	started time.Time

	extendedCard *a2a.AgentCard
	validator    AuthValidator

	gatherer prometheus.Gatherer

	httpServer *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithExtendedCard installs the authenticated extended card and its
// validator.
func WithExtendedCard(card *a2a.AgentCard, v AuthValidator) Option {
	return func(s *Server) {
		s.extendedCard = card
		s.validator = v
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsGatherer serves prometheus metrics from the given gatherer on
// GET /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates the HTTP surface over a router and task manager.
func New(cfg Config, rt *router.Router, tasks *task.Manager, card *a2a.AgentCard, opts ...Option) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg:     cfg,
		router:  rt,
		tasks:   tasks,
		card:    card,
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the chi route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/jsonrpc", s.handleRPC)
	r.Post("/", s.handleRPC)
	r.Get(a2a.WellKnownCardPath, s.handleAgentCard)
	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}
	return r
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout stays zero: SSE streams are long-lived.
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": version.Version,
		"uptime":  int64(time.Since(s.started).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
