// Package metrics exposes Prometheus gauges and counters shared by the
// supervisor and by each agent subprocess, plus a tiny HTTP server for
// /healthz and /metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gauges/counters one sealteam process exposes.
// The supervisor uses TrackedAgents/SessionStatus; an agent subprocess
// uses ToolCallsTotal/ToolCallsInFlight, fed from its lifeloop's
// ToolEvent stream.
type Registry struct {
	reg *prometheus.Registry

	TrackedAgents     prometheus.Gauge
	SessionStatus     *prometheus.GaugeVec
	ToolCallsTotal    *prometheus.CounterVec
	ToolCallsInFlight prometheus.Gauge
	ToolCallFailures  *prometheus.CounterVec
}

// New builds a fresh Registry with every metric registered.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		TrackedAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tracked_agents", Help: "Number of agent subprocesses currently tracked by the supervisor.",
		}),
		SessionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "session_status", Help: "1 for the session's current status, 0 otherwise, labeled by status.",
		}, []string{"status"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_calls_total", Help: "Total tool invocations, labeled by tool name.",
		}, []string{"tool"}),
		ToolCallsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tool_calls_in_flight", Help: "Tool calls currently executing in this agent's loop.",
		}),
		ToolCallFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_call_failures_total", Help: "Total failed tool invocations, labeled by tool name.",
		}, []string{"tool"}),
	}
	reg.MustRegister(r.TrackedAgents, r.SessionStatus, r.ToolCallsTotal, r.ToolCallsInFlight, r.ToolCallFailures)
	return r
}

// SetSessionStatus zeros every known status label and sets the current
// one to 1, so a Grafana panel can graph status as a step function.
func (r *Registry) SetSessionStatus(statuses []string, current string) {
	for _, s := range statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		r.SessionStatus.WithLabelValues(s).Set(v)
	}
}

// Server serves /healthz (always 200 once listening) and /metrics.
type Server struct {
	httpServer *http.Server
}

// NewServer builds an HTTP server bound to addr exposing r's metrics.
func NewServer(addr string, r *Registry) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// with a short grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
