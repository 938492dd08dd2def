// Package server exposes the registry state, metric history and process
// metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/internal/history"
	"github.com/HerbHall/accumulator/internal/version"
	"github.com/HerbHall/accumulator/pkg/models"
)

// StateProvider is the read side of the device registry.
type StateProvider interface {
	State() models.State
	// Subscribe returns a channel signalled after every registry change. It
	// is closed when ctx ends.
	Subscribe(ctx context.Context) <-chan struct{}
}

// Deps are the collaborators the routes read from.
type Deps struct {
	State   StateProvider
	History history.History
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Now is used for history defaults. Nil uses time.Now.
	Now func() time.Time
}

// Server is the accumulator HTTP API.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a Server listening on addr once started.
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger = logger.Named("server")
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           requestLogger(logger, mux),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		deps:   deps,
		logger: logger,
		mux:    mux,
	}

	s.registerRoutes()
	return s
}

// registerRoutes sets up every route served.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/state", s.handleState)
	s.mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/v1/ws/state", s.handleStateStream)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/", s.handleNotFound)
}

// Handler returns the routed handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP requests. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "accumulator",
		"version": version.Map(),
		"devices": len(s.deps.State.State().Devices),
	})
}

// handleState returns every registered device with its latest snapshot.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.State.State())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	NotFound(w, r, "no route for "+r.Method+" "+r.URL.Path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Accumulator-Version", version.Short())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
