package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
)

// maxSpecBytes bounds a submitted spec
const maxSpecBytes = 1 << 20

// Server exposes the manager over HTTP/JSON
type Server struct {
	manager *manager.Manager
	router  chi.Router
	http    *http.Server
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(mgr *manager.Manager) *Server {
	s := &Server{
		manager: mgr,
		logger:  log.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", s.listResources)
			r.Route("/{kind}/{key}", func(r chi.Router) {
				r.Get("/", s.getResource)
				r.Post("/", s.submitResource)
				r.Put("/", s.submitResource)
				r.Delete("/", s.removeResource)
				r.Post("/retry", s.retryResource)
				r.Get("/history", s.resourceHistory)
			})
		})

		r.Route("/records/{id}", func(r chi.Router) {
			r.Get("/", s.getRecord)
			r.Get("/history", s.recordHistory)
		})

		r.Get("/events", s.streamEvents)
	})

	s.router = r
}

// Start serves the API on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metrics.RegisterComponent(metrics.ComponentAPI, true, "listening on "+addr)
	s.logger.Info().Str("addr", addr).Msg("API listening")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for open ones until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.http.Shutdown(ctx)
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error errors.Error `json:"error"`
}

func (s *Server) json(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) error(w http.ResponseWriter, err error) {
	e := errors.E(err)
	status := statusFor(e)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	s.json(w, status, ErrorResponse{Error: e})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrValidation), errors.Is(err, errors.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
