package importer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
)

// Service exposes the importer over the instance's HTTP surface: a health
// probe that only reports ready once the boot import (if any) finished, and
// the last/current run's progress for the control plane to poll.
type Service struct {
	im     *Importer
	logger *slog.Logger

	mu    sync.RWMutex
	last  *Progress
	ready atomic.Bool
}

// NewService wraps an Importer for HTTP registration.
func NewService(im *Importer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{im: im, logger: logger}
}

// Run executes one import, recording every progress transition so status
// requests observe the in-flight run.
func (s *Service) Run(ctx context.Context, rawURL string) (*Result, error) {
	return s.im.ImportFromURL(ctx, rawURL, Options{
		OnProgress: func(p *Progress) {
			snap := p.snapshot()
			s.mu.Lock()
			s.last = &snap
			s.mu.Unlock()
		},
	})
}

// SetReady marks the instance ready to serve. The boot trigger calls this
// only after a configured import completed.
func (s *Service) SetReady() { s.ready.Store(true) }

// RegisterHTTP registers the status endpoints on the chassis router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/import/status", s.handleStatus)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "importing", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if last == nil {
		w.Write([]byte(`{"status":"idle"}`))
		return
	}
	if err := json.NewEncoder(w).Encode(last); err != nil {
		s.logger.Error("status encode failed", "error", err)
	}
}
