// Package api exposes the tracker over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
	"github.com/goodtune/tasktracker/internal/tracking"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Tracker is the subset of tracking.Tracker the API needs.
type Tracker interface {
	Checkin(ctx context.Context, user, task string) (*storage.Session, error)
	Checkout(ctx context.Context, user string) (*storage.ClosedSession, error)
	Report(ctx context.Context) (tracking.Report, error)
	Peek(ctx context.Context, user string) (*storage.Session, error)
	OpenSessions(ctx context.Context) ([]storage.Session, error)
}

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string

	// ReportUnit is the duration that one report integer stands for.
	ReportUnit time.Duration
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	tracker  Tracker
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, tracker Tracker, logger zerolog.Logger) *Server {
	if cfg.ReportUnit <= 0 {
		cfg.ReportUnit = time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	s := &Server{
		config:  cfg,
		tracker: tracker,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Match on the escaped path so user names may contain "/" as %2F
	s.router.UseEncodedPath()

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware())

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	// Browser client routes, with and without the trailing slash
	s.handle("/checkin", s.handleCheckin, http.MethodPost)
	s.handle("/checkout", s.handleCheckout, http.MethodPost)
	s.handle("/report", s.handleReport, http.MethodGet)

	// Diagnostics
	s.router.HandleFunc("/sessions", s.handleListSessions).Methods(s.methods(http.MethodGet)...)
	s.router.HandleFunc("/sessions/{user}", s.handleGetSession).Methods(s.methods(http.MethodGet)...)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) handle(path string, h http.HandlerFunc, method string) {
	s.router.HandleFunc(path, h).Methods(s.methods(method)...)
	s.router.HandleFunc(path+"/", h).Methods(s.methods(method)...)
}

// methods adds OPTIONS when CORS is enabled so preflights reach the
// middleware.
func (s *Server) methods(method string) []string {
	if len(s.config.AllowedOrigins) > 0 {
		return []string{method, http.MethodOptions}
	}
	return []string{method}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Dur("report_unit", s.config.ReportUnit).
		Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}
