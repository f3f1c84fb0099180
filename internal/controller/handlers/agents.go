package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"agentplane/internal/controller/middleware"
	"agentplane/internal/store"
	"agentplane/pkg/api"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// CreateAgent handles POST /agents.
// It publishes a new agent definition owned by the calling organization.
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Image == "" {
		h.httpError(w, "Name and Image are required", http.StatusBadRequest)
		return
	}
	switch store.AgentType(req.Type) {
	case store.AgentTypeSimple, store.AgentTypeAdvanced, store.AgentTypeEnterprise:
	default:
		h.httpError(w, "Type must be simple, advanced or enterprise", http.StatusBadRequest)
		return
	}

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	agent := &store.Agent{
		ID:             uuid.New(),
		OwnerID:        org.ID,
		Name:           req.Name,
		Type:           store.AgentType(req.Type),
		Image:          req.Image,
		Command:        req.Command,
		DefaultTimeout: req.DefaultTimeout,
		MemoryLimitMB:  req.MemoryLimitMB,
		Status:         store.AgentStatusActive,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if err := h.store.CreateAgent(ctx, tx, agent); err != nil {
		h.httpError(w, "Failed to create agent", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(); err != nil {
		h.httpError(w, "Failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, api.CreateAgentResponse{AgentID: agent.ID.String()})
}

// RunAgent handles POST /agents/{id}/run.
// Creates a manual execution and enqueues it so workers can pull it. With
// wait=true the request blocks until the execution settles or the wait
// times out.
func (h *Handlers) RunAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid agent id", http.StatusBadRequest)
		return
	}

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.RunAgentRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.httpError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	agent, err := h.store.GetAgentByID(ctx, agentID)
	if err != nil {
		h.httpError(w, "Agent not found", http.StatusNotFound)
		return
	}

	allowed, err := h.store.HasActiveAccess(ctx, org.ID, agentID)
	if err != nil {
		h.httpError(w, "Access check failed", http.StatusInternalServerError)
		return
	}
	if !allowed {
		h.appError(w, apperr.New(apperr.CodePermission, "organization has no active access to this agent"))
		return
	}

	if agent.Status != store.AgentStatusActive {
		h.httpError(w, "Agent is stopped", http.StatusConflict)
		return
	}

	priority := req.Priority
	if priority == 0 {
		priority = store.PriorityManual
	}
	if priority < store.PriorityManual {
		h.httpError(w, "Priority must be >= 1", http.StatusBadRequest)
		return
	}

	// Propagate the request span across the queue.
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	// Serialize the agent definition into the queue payload so the worker
	// doesn't need to query the agents table per item.
	payload, err := json.Marshal(api.ExecutionPayload{
		Agent: agentSpec(agent),
		Input: req.Input,
		Trace: carrier,
	})
	if err != nil {
		h.httpError(w, "Failed to encode payload", http.StatusInternalServerError)
		return
	}

	execution := &store.Execution{
		ID:         uuid.New(),
		AgentID:    agentID,
		OwnerID:    org.ID,
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

	if !req.Wait {
		h.respondJson(w, http.StatusAccepted, api.RunAgentResponse{
			ExecutionID: execution.ID.String(),
			Status:      string(store.ExecutionStatusPending),
		})
		return
	}

	settled, err := h.waiter.Wait(ctx, execution.ID, h.waitTimeout)
	if err != nil {
		// Still running; the caller can poll GET /executions/{id}.
		h.respondJson(w, http.StatusAccepted, api.RunAgentResponse{
			ExecutionID: execution.ID.String(),
			Status:      string(store.ExecutionStatusExecuting),
			Error:       "execution timed out",
		})
		return
	}

	resp := api.RunAgentResponse{
		ExecutionID: execution.ID.String(),
		Status:      string(settled.Status),
		Result:      settled.Result,
	}
	if settled.LastError != nil {
		resp.Error = *settled.LastError
	}
	h.respondJson(w, http.StatusOK, resp)
}

// StopAgent handles POST /agents/{id}/stop.
// Marks the agent stopped and cancels every pending execution. Executions
// already claimed by a worker finish on their own.
func (h *Handlers) StopAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid agent id", http.StatusBadRequest)
		return
	}

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if err := h.store.SetAgentStatus(ctx, tx, agentID, org.ID, store.AgentStatusStopped); err != nil {
		if apperr.IsNotFound(err) {
			h.httpError(w, "Agent not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to stop agent", http.StatusInternalServerError)
		return
	}

	cancelled, err := h.store.CancelPendingForAgent(ctx, tx, agentID)
	if err != nil {
		h.httpError(w, "Failed to cancel pending executions", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(); err != nil {
		h.httpError(w, "Failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.StopAgentResponse{
		AgentID:   agentID.String(),
		Cancelled: cancelled,
	})
}

// GetAgentStatus handles GET /agents/{id}/status.
func (h *Handlers) GetAgentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid agent id", http.StatusBadRequest)
		return
	}

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	agent, err := h.store.GetAgentByID(ctx, agentID)
	if err != nil {
		h.httpError(w, "Agent not found", http.StatusNotFound)
		return
	}

	allowed, err := h.store.HasActiveAccess(ctx, org.ID, agentID)
	if err != nil || !allowed {
		h.httpError(w, "Agent not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, api.AgentStatusResponse{
		AgentID: agent.ID.String(),
		Name:    agent.Name,
		Type:    string(agent.Type),
		Status:  string(agent.Status),
	})
}

// agentSpec projects the stored agent onto its queue payload form.
func agentSpec(agent *store.Agent) api.AgentSpec {
	return api.AgentSpec{
		ID:             agent.ID,
		OwnerID:        agent.OwnerID,
		Name:           agent.Name,
		Type:           string(agent.Type),
		Image:          agent.Image,
		Command:        agent.Command,
		DefaultTimeout: agent.DefaultTimeout,
		MemoryLimitMB:  agent.MemoryLimitMB,
	}
}
