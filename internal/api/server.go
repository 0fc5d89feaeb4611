// Package api serves the netsentry REST API: a thin HTTP adapter over the
// scan service plus health and Prometheus endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/netsentry/docs/swagger" // registers the OpenAPI document
	"github.com/anstrom/netsentry/internal/api/handlers"
	"github.com/anstrom/netsentry/internal/api/middleware"
	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/logging"
	"github.com/anstrom/netsentry/internal/metrics"
)

const serverShutdownTimeout = 30 * time.Second

// Dependencies are the collaborators the server adapts. Pinger, Scans and
// Metrics may be nil.
type Dependencies struct {
	Service handlers.ScanService
	Pinger  handlers.DatabasePinger
	Scans   handlers.ActiveScans
	Metrics *metrics.PrometheusMetrics
	Logger  *logging.Logger
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	deps       Dependencies
	logger     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("api server requires a scan service")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		router: mux.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: deps.Logger.WithComponent("api"),
		ctx:    ctx,
		cancel: cancel,
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
		Handler:           server.handler(),
		ReadTimeout:       cfg.API.ReadTimeout,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
		MaxHeaderBytes:    cfg.API.MaxHeaderBytes,
	}

	return server, nil
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	defer s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	scanHandler := handlers.NewScanHandler(s.deps.Service, s.logger)
	healthHandler := handlers.NewHealthHandler(s.deps.Pinger, s.deps.Scans, s.logger)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	api.HandleFunc("/liveness", healthHandler.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/version", healthHandler.Version).Methods(http.MethodGet)

	api.HandleFunc("/scans", scanHandler.CreateScan).Methods(http.MethodPost)
	api.HandleFunc("/scans", scanHandler.ListScans).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", scanHandler.GetScan).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}/status", scanHandler.GetScanStatus).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}/cancel", scanHandler.CancelScan).Methods(http.MethodPost)

	if s.deps.Metrics != nil && s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	)).Methods(http.MethodGet)
	s.router.HandleFunc("/docs", redirectToSwagger).Methods(http.MethodGet)
}

// redirectToSwagger sends browsers to the Swagger UI.
func redirectToSwagger(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
}

// setupMiddleware configures the router middleware chain.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))

	var recorder metrics.Recorder
	if s.deps.Metrics != nil {
		recorder = s.deps.Metrics
	}
	s.router.Use(middleware.Metrics(recorder))

	if s.config.API.RateLimitRequests > 0 {
		s.router.Use(middleware.RateLimit(s.ctx, s.config.API.RateLimitRequests, s.config.API.RateLimitWindow, s.logger))
	}
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.ContentType())
	s.router.Use(middleware.MaxBodySize(s.config.API.MaxRequestSize))
}

// handler wraps the router with CORS when enabled. CORS sits outside the
// router so preflight requests reach it without a matching route.
func (s *Server) handler() http.Handler {
	if !s.config.API.EnableCORS {
		return s.router
	}
	return gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(s.config.API.CORSOrigins),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
	)(s.router)
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}
