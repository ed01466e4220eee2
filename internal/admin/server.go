// Package admin implements the HTTP status API for the wireline daemon.
//
// The API is read-mostly JSON: probe statuses, a health check, and a
// trigger for running one probe out of schedule. It is served over h2c
// by the daemon so plaintext HTTP/2 clients work.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lucian/wireline/internal/probe"
)

// Scheduler is the part of the probe scheduler the API serves.
type Scheduler interface {
	// Statuses returns a snapshot of all registered probes.
	Statuses() []probe.Status

	// RunNow fires one probe immediately.
	RunNow(ctx context.Context, name string) error
}

// New returns the admin API handler, wrapped in logging and recovery
// middleware. Routes:
//
//	GET  /healthz                   liveness check
//	GET  /api/v1/probes             all probe statuses
//	POST /api/v1/probes/{name}/run  run one probe now
func New(sched Scheduler, logger *slog.Logger) http.Handler {
	s := &server{
		sched:  sched,
		logger: logger.With(slog.String("component", "admin")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/v1/probes", s.handleProbes)
	mux.HandleFunc("POST /api/v1/probes/{name}/run", s.handleRunProbe)

	return Logging(s.logger)(Recovery(s.logger)(mux))
}

type server struct {
	sched  Scheduler
	logger *slog.Logger
}

// probeStatus is the wire shape of one probe in API responses.
type probeStatus struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	Runs     uint64    `json:"runs"`
	LastErr  string    `json:"last_error,omitempty"`
	LastRun  time.Time `json:"last_run"`
	Interval string    `json:"interval"`
}

// runResult is the wire shape of a manual probe run.
type runResult struct {
	Probe string `json:"probe"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleProbes(w http.ResponseWriter, _ *http.Request) {
	statuses := s.sched.Statuses()

	out := make([]probeStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, probeStatus{
			Name:     st.Name,
			Kind:     st.Kind,
			State:    st.State.String(),
			Failures: st.Failures,
			Runs:     st.Runs,
			LastErr:  st.LastErr,
			LastRun:  st.LastRun,
			Interval: st.Interval.String(),
		})
	}

	s.writeJSON(w, http.StatusOK, out)
}

// handleRunProbe runs the named probe synchronously. The run's verdict
// is data, not an HTTP error: a failing probe still answers 200 with
// ok=false so callers can distinguish "probe failed" from "API failed".
func (s *server) handleRunProbe(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := s.sched.RunNow(r.Context(), name)
	if errors.Is(err, probe.ErrProbeNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	res := runResult{Probe: name, OK: err == nil}
	if err != nil {
		res.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response",
			slog.String("error", err.Error()),
		)
	}
}
