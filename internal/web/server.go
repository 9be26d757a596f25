package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unilearn/faceid/internal/config"
	"github.com/unilearn/faceid/internal/gate"
	"github.com/unilearn/faceid/internal/store"
	"github.com/unilearn/faceid/internal/web/middleware"
)

// Server represents the web server.
type Server struct {
	config         *config.Config
	router         *chi.Mux
	httpServer     *http.Server
	sessionManager *middleware.SessionManager
	store          *store.Store
	index          *store.FaceIndex
	logger         *zap.Logger
}

// NewServer creates a new web server.
func NewServer(cfg *config.Config, st *store.Store, idx *store.FaceIndex, logger *zap.Logger) *Server {
	r := chi.NewRouter()

	sessionManager := middleware.NewSessionManager(cfg.Server.SessionSecret)
	policy := gate.NewPolicy(cfg.Gate.VerifyPath, cfg.Gate.AllowedPaths, cfg.Gate.StaticPrefixes)

	s := &Server{
		config:         cfg,
		router:         r,
		sessionManager: sessionManager,
		store:          st,
		index:          idx,
		logger:         logger,
	}

	// Set up middleware stack.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS())
	r.Use(middleware.SecurityHeaders())
	// The face gate sits after CORS so preflight never gets redirected.
	r.Use(middleware.FaceGate(sessionManager, policy))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// SessionManager returns the session manager for testing.
func (s *Server) SessionManager() *middleware.SessionManager {
	return s.sessionManager
}
