// Package http serves the worker's operational endpoints.
package http

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openctemio/vulncatalog/internal/infra/http/middleware"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Production omits stack traces from panic logs.
	Production bool
}

// Server serves the health and metrics endpoints of the worker.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	addr       string
	logger     *logger.Logger
}

// NewServer creates a server with the standard middleware stack. Routes are
// added through Router before Start.
func NewServer(cfg ServerConfig, log *logger.Logger) *Server {
	readTimeout := cmp.Or(cfg.ReadTimeout, 10*time.Second)
	writeTimeout := cmp.Or(cfg.WriteTimeout, 30*time.Second)

	r := chi.NewRouter()
	// Recovery runs outermost; the request id must exist before the logger runs.
	r.Use(
		middleware.Recovery(log, cfg.Production),
		middleware.RequestID,
		chimw.CleanPath,
		chimw.StripSlashes,
		middleware.Metrics,
		middleware.Logger(log),
	)

	return &Server{
		router: r,
		addr:   cfg.Addr,
		logger: log.With("component", "http_server"),
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       time.Minute,
		},
	}
}

// Router returns the router for registering handlers.
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("serving operational endpoints", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
