package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"agentplane/internal/controller/middleware"
	"agentplane/internal/store"
	"agentplane/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// GetExecution handles GET /executions/{id}.
// Returns the current status and result of an agent run.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	executionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid execution id", http.StatusBadRequest)
		return
	}

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	execution, err := h.store.GetExecutionByID(ctx, executionID)
	if err != nil || execution.OwnerID != org.ID {
		h.httpError(w, "Execution not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, executionResponse(execution))
}

func executionResponse(e *store.Execution) api.ExecutionResponse {
	return api.ExecutionResponse{
		ID:              e.ID.String(),
		AgentID:         e.AgentID.String(),
		Status:          string(e.Status),
		Priority:        e.Priority,
		RetryCount:      e.RetryCount,
		MaxRetries:      e.MaxRetries,
		Result:          e.Result,
		LastError:       e.LastError,
		ExecutionTimeMS: e.ExecutionTimeMS,
		MemoryUsedMB:    e.MemoryUsedMB,
		CreatedAt:       e.CreatedAt,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
	}
}

// ---------------------------------------------------------
// Internal endpoints
// These are guarded by the internal bearer secret, not the
// tenant middleware.
// ---------------------------------------------------------

// InternalEnqueue handles POST /internal/enqueue.
// The webhook ingestion collaborator calls this with a pre-validated
// payload; signature verification already happened upstream.
func (h *Handlers) InternalEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		h.httpError(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		h.httpError(w, "Invalid owner id", http.StatusBadRequest)
		return
	}

	agent, err := h.store.GetAgentByID(ctx, agentID)
	if err != nil {
		h.httpError(w, "Agent not found", http.StatusNotFound)
		return
	}
	if agent.Status != store.AgentStatusActive {
		h.httpError(w, "Agent is stopped", http.StatusConflict)
		return
	}

	priority := req.Priority
	if priority == 0 {
		priority = store.PriorityWebhook
	}

	var envelope *api.WebhookEnvelope
	if len(req.Payload) > 0 {
		envelope = &api.WebhookEnvelope{Method: http.MethodPost, Body: req.Payload}
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	payload, err := json.Marshal(api.ExecutionPayload{
		Agent:   agentSpec(agent),
		Input:   req.Payload,
		Webhook: envelope,
		Trace:   carrier,
	})
	if err != nil {
		h.httpError(w, "Failed to encode payload", http.StatusInternalServerError)
		return
	}

	execution := &store.Execution{
		ID:         uuid.New(),
		AgentID:    agentID,
		OwnerID:    ownerID,
		Status:     store.ExecutionStatusPending,
		Priority:   priority,
		Payload:    payload,
		MaxRetries: req.MaxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.store.Enqueue(ctx, nil, execution); err != nil {
		h.httpError(w, "Failed to enqueue", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.EnqueueResponse{
		ExecutionID: execution.ID.String(),
	})
}

// InternalSchedulerTick handles POST /internal/scheduler/tick.
// An external timer (or the embedded ticker) triggers one reconciliation
// pass: refill materialization windows, then dispatch due executions.
func (h *Handlers) InternalSchedulerTick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	if _, err := h.scheduler.RefillWindows(ctx, now); err != nil {
		h.appError(w, err)
		return
	}

	tick, err := h.scheduler.ProcessScheduledExecutions(ctx, now)
	if err != nil {
		h.appError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, tick)
}
