// Package ops provides the HTTP operational surface: health, metrics,
// breaker state, and per-job cost tracking. Read-only aside from job
// submission and the breaker reset escape hatch.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reportpipe/internal/core/domain"
	"reportpipe/internal/guard/breaker"
	"reportpipe/internal/guard/budget"
)

// Check is one named health probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// StartJobRequest is the job submission payload.
type StartJobRequest struct {
	UserID        string   `json:"user_id"`
	SourceURL     string   `json:"source_url"`
	EstimatedCost *float64 `json:"estimated_cost"`
	BudgetLimit   *float64 `json:"budget_limit"`
}

// JobStarter creates and launches a report job.
type JobStarter interface {
	StartJob(ctx context.Context, req StartJobRequest) (string, error)
}

// Server provides HTTP endpoints for operations and monitoring.
type Server struct {
	governor *budget.Governor
	starter  JobStarter
	breakers map[string]*breaker.Breaker
	checks   []Check
	server   *http.Server
}

// NewServer creates a new ops server.
func NewServer(
	port int,
	governor *budget.Governor,
	starter JobStarter,
	breakers map[string]*breaker.Breaker,
	checks []Check,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		governor: governor,
		starter:  starter,
		breakers: breakers,
		checks:   checks,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /breakers", s.handleBreakers)
	mux.HandleFunc("POST /breakers/{name}/reset", s.handleBreakerReset)
	mux.HandleFunc("POST /jobs", s.handleStartJob)
	mux.HandleFunc("GET /jobs/{id}/cost", s.handleJobCost)
	mux.HandleFunc("GET /jobs/{id}/cost/breakdown", s.handleJobCostBreakdown)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type componentStatus struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	status := "healthy"
	components := make(map[string]componentStatus, len(s.checks)+len(s.breakers))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, check := range s.checks {
		if err := check.Probe(ctx); err != nil {
			components[check.Name] = componentStatus{Status: "critical", Error: err.Error()}
			status = "critical"
			continue
		}
		components[check.Name] = componentStatus{Status: "healthy"}
	}

	for name, b := range s.breakers {
		if !b.IsHealthy() {
			components["breaker:"+name] = componentStatus{Status: "degraded"}
			if status == "healthy" {
				status = "degraded"
			}
			continue
		}
		components["breaker:"+name] = componentStatus{Status: "healthy"}
	}

	code := http.StatusOK
	if status == "critical" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}

type breakerStatus struct {
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Healthy     bool    `json:"healthy"`
	Requests    int     `json:"requests"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]breakerStatus, len(s.breakers))
	for name, b := range s.breakers {
		m := b.Metrics()
		out[name] = breakerStatus{
			Name:        name,
			State:       b.State().String(),
			Healthy:     b.IsHealthy(),
			Requests:    m.Requests,
			Successes:   m.Successes,
			Failures:    m.Failures,
			FailureRate: m.FailureRate(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	b, ok := s.breakers[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown breaker %q", name))
		return
	}
	b.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "source_url is required")
		return
	}

	jobID, err := s.starter.StartJob(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleJobCost(w http.ResponseWriter, r *http.Request) {
	status, err := s.governor.GetCostTrackingStatus(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleJobCostBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.governor.GetAnalysisCostBreakdown(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
