// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"agentplane/internal/metrics"
	"agentplane/internal/scheduler"
	"agentplane/internal/store"
	"agentplane/pkg/api"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
)

// StoreFactory combines the interfaces needed for the controller to function.
type StoreFactory interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	Ping(ctx context.Context) error
	store.OrganizationStore
	store.AgentStore
	store.ScheduleStore
	store.Queue
}

// Waiter blocks until an execution reaches a terminal state or the wait
// times out. Backed by the completion hub.
type Waiter interface {
	Wait(ctx context.Context, executionID uuid.UUID, timeout time.Duration) (*store.Execution, error)
}

// MetricsSource serves the dashboard and per-runtime metrics endpoints.
// Backed by the execution store so the rollups cover work recorded by
// every worker, not just this process.
type MetricsSource interface {
	RuntimeMetrics(ctx context.Context, runtimeID uuid.UUID) (metrics.RuntimeMetrics, error)
	Dashboard(ctx context.Context, activeRuntimes int) (metrics.Dashboard, error)
	History(ctx context.Context, runtimeID uuid.UUID, start, end time.Time) ([]metrics.RuntimeMetrics, error)
}

// RuntimeCounter reports how many organization runtimes are active.
type RuntimeCounter interface {
	ActiveRuntimes() int
}

// noRuntimes is the counter used when no registry runs in this process.
type noRuntimes struct{}

func (noRuntimes) ActiveRuntimes() int { return 0 }

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store       StoreFactory
	scheduler   *scheduler.Service
	waiter      Waiter
	metrics     MetricsSource
	runtimes    RuntimeCounter
	waitTimeout time.Duration
}

// New creates a new Handlers instance. runtimes may be nil when the
// process hosts no execution runtimes.
func New(s StoreFactory, sched *scheduler.Service, waiter Waiter, source MetricsSource, runtimes RuntimeCounter, waitTimeout time.Duration) *Handlers {
	if runtimes == nil {
		runtimes = noRuntimes{}
	}
	if waitTimeout <= 0 {
		waitTimeout = 60 * time.Second
	}
	return &Handlers{
		store:       s,
		scheduler:   sched,
		waiter:      waiter,
		metrics:     source,
		runtimes:    runtimes,
		waitTimeout: waitTimeout,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// appError maps an engine error to its HTTP status and responds.
func (h *Handlers) appError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation:
		status = http.StatusBadRequest
	case apperr.CodePermission:
		status = http.StatusForbidden
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeResourceExhausted:
		status = http.StatusTooManyRequests
	case apperr.CodeInfrastructure:
		status = http.StatusServiceUnavailable
	}
	h.respondJson(w, status, api.ErrorResponse{
		Error: err.Error(),
		Code:  string(apperr.CodeOf(err)),
	})
}
