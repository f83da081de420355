package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dhruvsoni1802/devtools-rpc/internal/pool"
	"github.com/dhruvsoni1802/devtools-rpc/internal/session"
)

// Server represents the HTTP API server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	manager *session.Manager
}

// NewServer creates a new HTTP server. loadBalancer may be nil. endpoint is
// the host:port GET /targets lists by default.
func NewServer(port string, manager *session.Manager, loadBalancer *pool.LoadBalancer, endpoint string) *Server {
	router := NewRouter(NewHandlers(manager, loadBalancer, endpoint))

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // commands may wait on the debugger
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		router:  router,
		server:  server,
		manager: manager,
	}
}

// NewRouter registers the API routes
func NewRouter(handlers *Handlers) *chi.Mux {
	router := chi.NewRouter()

	// Middleware, Recovery sits inside Logging so panicking requests are logged
	router.Use(middleware.RequestID)
	router.Use(LoggingMiddleware)
	router.Use(RecoveryMiddleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", handlers.Health)
	router.Get("/metrics", handlers.Metrics)
	router.Get("/protocol", handlers.Protocol)
	router.Get("/targets", handlers.ListTargets)

	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", handlers.CreateSession)
		r.Get("/", handlers.ListSessions)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handlers.GetSession)
			r.Delete("/", handlers.DestroySession)
			r.Post("/commands", handlers.ExecuteCommand)
			r.Get("/events", handlers.ListEvents)
			r.Post("/navigate", handlers.Navigate)
			r.Post("/evaluate", handlers.Evaluate)
			r.Post("/screenshot", handlers.CaptureScreenshot)
			r.Get("/content", handlers.GetPageContent)

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", handlers.Subscribe)
				r.Delete("/{event}", handlers.Unsubscribe)
			})
		})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.server.Addr)

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	slog.Info("HTTP server stopped")
	return nil
}
