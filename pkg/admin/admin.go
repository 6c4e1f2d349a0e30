// Package admin serves the plaintext operational sidecar of a node:
// liveness, Prometheus metrics and, on the gateway, a websocket feed of
// payment outcomes. It never carries payment traffic.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Config holds configuration for the admin listener.
type Config struct {
	Host string
	Port int

	// Events, when non-nil, exposes the payment event feed at /events.
	Events *EventHub
}

// Server is the admin HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server
	logger  *log.Entry
}

// NewServer builds the admin server. It does not listen until Start.
func NewServer(config *Config) *Server {
	s := &Server{
		config: config,
		router: chi.NewRouter(),
		logger: log.WithField("component", "admin"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())
	if config.Events != nil {
		s.router.Get("/events", config.Events.handleEvents)
	}

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events holds the connection open
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the handler, for tests over httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves in the background and logs the bound address.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.httpSrv.Addr).Info("admin listener started")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("admin listener failed")
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.config.Events != nil {
		s.config.Events.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
