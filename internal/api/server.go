// Package api provides the JSON HTTP API over the ledger and PnL reports.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"cryptoLedger/internal/app"
	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

// ReportServiceInterface is the read side used by the handlers.
type ReportServiceInterface interface {
	Transactions(ctx context.Context, filter ports.LedgerFilter) ([]domain.Transaction, error)
	Compute(ctx context.Context, filter ports.LedgerFilter) (*domain.Report, error)
}

// IngestServiceInterface triggers a ledger refresh.
type IngestServiceInterface interface {
	Refresh(ctx context.Context, mode app.WindowMode) (app.IngestResult, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	reports    ReportServiceInterface
	ingest     IngestServiceInterface
	logger     ports.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	DefaultMode  app.WindowMode // used by POST /api/ingest without ?mode=
}

// NewServer creates a new API server instance. ingest may be nil when no
// exchange account is configured; the ingest route then answers 503.
func NewServer(config *ServerConfig, reports ReportServiceInterface, ingest IngestServiceInterface, logger ports.Logger) (*Server, error) {
	if config == nil || reports == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for API server")
	}
	s := &Server{
		router:  mux.NewRouter(),
		reports: reports,
		ingest:  ingest,
		logger:  logger,
		config:  config,
	}
	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	api.HandleFunc("/pnl", s.handlePnL).Methods(http.MethodGet)
	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "crypto-ledger",
	})
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Starting API server", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
