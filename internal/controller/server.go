// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"agentplane/internal/controller/handlers"
	"agentplane/internal/controller/middleware"
	"agentplane/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the HTTP surface configuration.
type Config struct {
	Addr           string
	InternalSecret string
	WaitTimeout    time.Duration
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server. The prometheus gatherer backs the
// /metrics endpoint.
func New(cfg Config, store handlers.StoreFactory, sched *scheduler.Service, deps Deps) *Server {
	h := handlers.New(store, sched, deps.Waiter, deps.Metrics, deps.Runtimes, cfg.WaitTimeout)

	authMW := middleware.AuthMiddleware(store)
	rateMW := middleware.RateLimitMiddleware()
	internalMW := middleware.RequireInternalAuth(cfg.InternalSecret)

	tenant := func(next http.HandlerFunc) http.Handler {
		return authMW(rateMW(next))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /organizations", h.CreateOrganization)

	// Public authenticated apis
	mux.Handle("POST /agents", tenant(h.CreateAgent))
	mux.Handle("POST /agents/{id}/run", tenant(h.RunAgent))
	mux.Handle("POST /agents/{id}/stop", tenant(h.StopAgent))
	mux.Handle("GET /agents/{id}/status", tenant(h.GetAgentStatus))
	mux.Handle("POST /schedules", tenant(h.CreateSchedule))
	mux.Handle("PATCH /schedules/{id}", tenant(h.UpdateSchedule))
	mux.Handle("GET /schedules/{id}/status", tenant(h.GetScheduleStatus))
	mux.Handle("GET /executions/{id}", tenant(h.GetExecution))

	// Internal endpoints
	// Called by the webhook ingestion collaborator, the scheduler timer
	// and the admin dashboard. These authenticate with the system secret
	// and should additionally sit behind strict network rules.
	mux.Handle("POST /internal/enqueue", internalMW(http.HandlerFunc(h.InternalEnqueue)))
	mux.Handle("POST /internal/scheduler/tick", internalMW(http.HandlerFunc(h.InternalSchedulerTick)))
	mux.Handle("GET /internal/metrics/dashboard", internalMW(http.HandlerFunc(h.Dashboard)))
	mux.Handle("GET /internal/runtimes/{id}/metrics", internalMW(http.HandlerFunc(h.RuntimeMetrics)))
	mux.Handle("GET /internal/runtimes/{id}/metrics/history", internalMW(http.HandlerFunc(h.RuntimeMetricsHistory)))

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 90 * time.Second, // allows run-and-wait requests
		},
	}
}

// Deps bundles the cross-process collaborators the handlers need.
type Deps struct {
	Waiter   handlers.Waiter
	Metrics  handlers.MetricsSource
	Runtimes handlers.RuntimeCounter
	Gatherer prometheus.Gatherer
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
