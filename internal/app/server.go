package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/api/handlers"
	appMiddleware "github.com/RPLaine/newsroom-processor/internal/api/middlewares"
	"github.com/RPLaine/newsroom-processor/internal/config"
	"github.com/RPLaine/newsroom-processor/internal/dispatcher"
	"github.com/RPLaine/newsroom-processor/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, users *services.UserService, jobs *services.JobService, processes *services.ProcessService, d *dispatcher.Dispatcher, log *zap.Logger) *Server {
	authHandler := handlers.NewAuthHandler(users, cfg.JWTSecret, log)
	actionHandler := handlers.NewActionHandler(d, log)
	fileHandler := handlers.NewFileHandler(jobs, processes, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
	r.Use(appMiddleware.Logger(log))
	r.Use(middleware.Recoverer)
	// LLM calls run inside requests, so the timeout has to outlast them.
	r.Use(middleware.Timeout(cfg.LLMTimeout + 30*time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// the dispatcher runs its own auth gate
		api.Post("/action", actionHandler.Handle)

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.RequireUser)
			protected.Post("/jobs/{job_id}/files", fileHandler.UploadJobFile)
			protected.Get("/processes/{process_id}/files/{file_id}", fileHandler.DownloadProcessFile)
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
