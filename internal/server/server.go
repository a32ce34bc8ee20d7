// Package server exposes the pipeline's HTTP surface: the webhook
// intake endpoint and the run query API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/githubflow/githubflow-server/internal/application"
	"github.com/githubflow/githubflow-server/internal/domain"
)

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

func New(port int, logger *slog.Logger, normalizer *domain.Normalizer, trigger *application.TriggerService, runs *application.RunService) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "githubflow-server")
	})

	webhooks := &WebhookHandler{Normalizer: normalizer, Trigger: trigger, Logger: logger}
	runsAPI := &RunsHandler{Runs: runs}

	r.Post("/webhook/handle", webhooks.Handle)
	r.Get("/runs", runsAPI.List)
	r.Get("/runs/{id}", runsAPI.Get)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
		http:   &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: r},
	}
}

// Start serves until Shutdown is called or the listener fails. A
// shutdown-initiated stop is a clean return.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting new requests and waits for in-flight ones
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
