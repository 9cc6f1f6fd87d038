package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jeongseonghan/bersim/internal/logger"
)

// Server is the HTTP server for the sweep service.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	handler *Handlers
	metrics *Metrics
	log     zerolog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(addr string, handler *Handlers, metrics *Metrics, log zerolog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: handler,
		metrics: metrics,
		log:     logger.Component(log, "server"),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/sweeps", func(r chi.Router) {
			r.Post("/", s.handler.HandleSubmit)
			r.Get("/", s.handler.HandleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handler.HandleGet)
				r.Delete("/", s.handler.HandleCancel)
				r.Get("/gains", s.handler.HandleGains)
				r.Get("/constellation", s.handler.HandleConstellation)
			})
		})
		r.Get("/theory", s.handler.HandleTheory)
		r.Get("/status", s.handler.HandleStatus)
	})

	// WebSocket
	s.router.Get("/ws", s.handler.HandleWebSocket)

	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
