// Package chassis is the instance's HTTP/3 service chassis: a chi router
// behind a QUIC listener, with services registering their own endpoints.
package chassis

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quic-go/quic-go/http3"
)

// Service is anything that exposes HTTP endpoints on the chassis.
type Service interface {
	RegisterHTTP(r chi.Router)
}

// Server hosts registered services over HTTP/3.
type Server struct {
	addr       string
	logger     *slog.Logger
	services   map[string]Service
	router     *chi.Mux
	quicServer *http3.Server
	mu         sync.Mutex
}

// NewServer creates a chassis listening on addr.
func NewServer(logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(DefaultHeaders()))
	r.Use(MaxBody(1 << 20))

	return &Server{
		addr:     addr,
		logger:   logger,
		services: make(map[string]Service),
		router:   r,
	}
}

// Register adds a service's endpoints to the router.
func (s *Server) Register(name string, svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[name]; exists {
		return fmt.Errorf("chassis: service %s already registered", name)
	}
	svc.RegisterHTTP(s.router)
	s.services[name] = svc
	s.logger.Info("service registered", "name", name)
	return nil
}

// Start serves until the listener closes. Blocking.
func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := DevelopmentTLSConfig()
	if err != nil {
		return fmt.Errorf("chassis: tls config: %w", err)
	}

	s.quicServer = &http3.Server{
		Addr:      s.addr,
		Handler:   s.router,
		TLSConfig: tlsConfig,
	}

	s.logger.Info("chassis listening", "addr", s.addr, "services", len(s.services))
	if err := s.quicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("chassis: serve: %w", err)
	}
	return nil
}

// Stop closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.quicServer == nil {
		return nil
	}
	if err := s.quicServer.Close(); err != nil {
		return fmt.Errorf("chassis: stop: %w", err)
	}
	s.logger.Info("chassis stopped")
	return nil
}

// Router exposes the underlying router for tests.
func (s *Server) Router() http.Handler { return s.router }
