package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/metrics"
)

// StatsSource reports writer telemetry
type StatsSource interface {
	Stats() metrics.Stats
}

// Checker is a dependency that can report its health
type Checker interface {
	Health() error
}

// Server provides health and telemetry HTTP endpoints
type Server struct {
	server    *http.Server
	stats     StatsSource
	checks    map[string]Checker
	ready     bool
	readyMu   sync.RWMutex
	startTime time.Time
}

// HealthStatus represents process health
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ReadinessStatus represents readiness
type ReadinessStatus struct {
	Ready     bool              `json:"ready"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// WriterStatus is the JSON form of metrics.Stats
type WriterStatus struct {
	Buffered      int     `json:"buffered"`
	Flushes       int     `json:"flushes"`
	FailedFlushes int     `json:"failed_flushes"`
	InFlight      bool    `json:"in_flight"`
	LastFlushMS   float64 `json:"last_flush_ms"`
	AvgFlushMS    float64 `json:"avg_flush_ms"`
}

// NewServer creates the server. tail, when not nil, is mounted at /tail.
func NewServer(addr string, stats StatsSource, checks map[string]Checker, tail http.Handler) *Server {
	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 5 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		stats:     stats,
		checks:    checks,
		startTime: time.Now(),
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReadiness)
	mux.HandleFunc("/readyz", s.handleReadiness)
	mux.HandleFunc("/stats", s.handleStats)
	if tail != nil {
		mux.Handle("/tail", tail)
	}

	return s
}

// Handler returns the routing handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop is called
func (s *Server) Start() error {
	logger.Info("health server starting", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// SetReady marks the service as ready
func (s *Server) SetReady(ready bool) {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	s.ready = ready
}

func (s *Server) runChecks() (map[string]string, bool) {
	results := make(map[string]string, len(s.checks))
	healthy := true
	for name, c := range s.checks {
		if err := c.Health(); err != nil {
			results[name] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			results[name] = "healthy"
		}
	}
	return results, healthy
}

// handleHealth is the liveness probe: 200 while the process runs
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}

	if r.URL.Query().Get("verbose") == "true" {
		status.Checks, _ = s.runChecks()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleReadiness returns 200 only when marked ready and every check passes
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.readyMu.RLock()
	ready := s.ready
	s.readyMu.RUnlock()

	checks, healthy := s.runChecks()
	if s.stats != nil && s.stats.Stats().FailedFlushes > 0 {
		checks["writer"] = "flush failures reported"
	}

	status := ReadinessStatus{
		Ready:     ready && healthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "no writer attached", http.StatusNotFound)
		return
	}

	st := s.stats.Stats()
	writeJSON(w, http.StatusOK, WriterStatus{
		Buffered:      st.Buffered,
		Flushes:       st.Flushes,
		FailedFlushes: st.FailedFlushes,
		InFlight:      st.InFlight,
		LastFlushMS:   millis(st.LastFlush),
		AvgFlushMS:    millis(st.AvgFlush),
	})
}

// millis keeps -1 for "no flush yet"
func millis(d time.Duration) float64 {
	if d < 0 {
		return -1
	}
	return float64(d) / float64(time.Millisecond)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}
