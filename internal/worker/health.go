package worker

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/metrics"
)

// HealthServer is the worker's HTTP sidecar: liveness, readiness and the
// Prometheus scrape endpoint. Workers have no request surface of their own,
// so this is all they listen on.
type HealthServer struct {
	service     string
	readyChecks map[string]func() error
	lg          zerolog.Logger
}

func NewHealthServer(service string, readyChecks map[string]func() error, lg zerolog.Logger) *HealthServer {
	return &HealthServer{
		service:     service,
		readyChecks: readyChecks,
		lg:          lg.With().Str("component", "health_server").Logger(),
	}
}

// Router returns the sidecar's routes.
func (s *HealthServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.health)
	r.Get("/health/live", s.live)
	r.Get("/health/ready", s.ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (s *HealthServer) health(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.service,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *HealthServer) live(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *HealthServer) ready(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]string, len(s.readyChecks))
	healthy := true
	for name, check := range s.readyChecks {
		if err := check(); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.respond(w, status, map[string]any{"status": statusWord(healthy), "checks": checks})
}

func statusWord(healthy bool) string {
	if healthy {
		return "ready"
	}
	return "not_ready"
}

func (s *HealthServer) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.lg.Error().Err(err).Msg("write health response failed")
	}
}
