package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"androcompute/internal/config"
	"androcompute/internal/master/coordinator"
)

// Server exposes the coordinator over HTTP.
type Server struct {
	coord   *coordinator.Coordinator
	cfg     config.ServerConfig
	logger  *zap.Logger
	router  chi.Router
	started time.Time

	httpServer *http.Server
}

func New(coord *coordinator.Coordinator, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coord:   coord,
		cfg:     cfg,
		logger:  logger.Named("api"),
		started: time.Now(),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Get("/dashboard", s.handleDashboard)

	// worker protocol
	r.Post("/register", s.handleRegister)
	r.Get("/get_job/{node_id}", s.handleGetJob)
	r.Post("/submit_result", s.handleSubmitResult)

	// operator surface
	r.Post("/submit_job", s.handleSubmitJob)
	r.Get("/nodes", s.handleNodes)
	r.Get("/jobs", s.handleJobs)
	r.Get("/results", s.handleResults)
	r.Get("/job_status/{job_id}", s.handleJobStatus)
	r.Post("/clear_completed", s.handleClearCompleted)
	r.Post("/cleanup_nodes", s.handleCleanupNodes)

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve is Start on a caller-provided listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Coordinator listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by the configured shutdown
// timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server", zap.Duration("timeout", timeout))
	return s.httpServer.Shutdown(ctx)
}
