package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/dojobs/internal/dispatch"
	"github.com/mattjoyce/dojobs/internal/events"
)

// ProgressSource reports the state of the current or last run.
type ProgressSource interface {
	Progress() dispatch.Progress
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Token is an optional bearer token guarding /progress and /events.
	Token string
}

// Server serves run status over HTTP while a run is in flight.
type Server struct {
	config    Config
	progress  ProgressSource
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, progress ProgressSource, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		progress:  progress,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return ln, nil
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events streams for the whole run
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			// SSE clients hold connections open; drop them.
			_ = s.server.Close()
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/progress", s.handleProgress)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
