// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wallet-analyzer/internal/logging"
	"github.com/wallet-analyzer/internal/service"
	"github.com/wallet-analyzer/internal/storage"
	"github.com/wallet-analyzer/internal/types"
)

// Service interfaces for dependency injection and testing

// AnalyzerServiceInterface defines the interface for wallet analysis operations
type AnalyzerServiceInterface interface {
	AnalyzeWallet(ctx context.Context, input *service.AnalyzeInput) (*types.Portfolio, error)
}

// SnapshotHistoryInterface defines the interface for persisted analysis history
type SnapshotHistoryInterface interface {
	GetRange(ctx context.Context, chain types.ChainID, address string, from, to time.Time) ([]*storage.AnalysisSnapshot, error)
}

// CacheStatsProvider exposes cache effectiveness counters
type CacheStatsProvider interface {
	Stats() storage.CacheStats
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	analyzer   AnalyzerServiceInterface
	history    SnapshotHistoryInterface
	cache      CacheStatsProvider
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	analyzer AnalyzerServiceInterface,
	history SnapshotHistoryInterface,
	cache CacheStatsProvider,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		analyzer: analyzer,
		history:  history,
		cache:    cache,
		config:   config,
		logger:   logging.Named("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Middleware order matters: request ids first so every log line
	// carries one, rate limiting after CORS so preflights stay cheap.
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/portfolio/{chain}/{address}", s.handleAnalyzePortfolio).Methods("GET")
	api.HandleFunc("/portfolio/{chain}/{address}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	cacheStatus := "ok"
	if s.cache != nil {
		if err := s.cache.Ping(r.Context()); err != nil {
			cacheStatus = "unreachable"
			status = "degraded"
		}
	}

	respondJSON(w, code, map[string]string{
		"status":  status,
		"service": "wallet-analyzer",
		"cache":   cacheStatus,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}
