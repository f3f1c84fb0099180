package handlers

import (
	"encoding/json"
	"net/http"

	"agentplane/internal/controller/middleware"
	"agentplane/internal/store"
	"agentplane/pkg/api"

	"github.com/google/uuid"
)

// CreateSchedule handles POST /schedules.
// Validation, permission checks and window materialization live in the
// scheduler service.
func (h *Handlers) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	schedule, materialized, err := h.scheduler.CreateSchedule(ctx, org.ID, req)
	if err != nil {
		h.appError(w, err)
		return
	}

	h.respondJson(w, http.StatusCreated, api.CreateScheduleResponse{
		ScheduleID:   schedule.ID.String(),
		Materialized: materialized,
	})
}

// UpdateSchedule handles PATCH /schedules/{id}.
func (h *Handlers) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scheduleID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid schedule id", http.StatusBadRequest)
		return
	}

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	schedule, err := h.scheduler.UpdateSchedule(ctx, org.ID, scheduleID, req)
	if err != nil {
		h.appError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, scheduleStatus(schedule))
}

func scheduleStatus(s *store.Schedule) api.ScheduleStatusResponse {
	return api.ScheduleStatusResponse{
		ID:                  s.ID.String(),
		AgentID:             s.AgentID.String(),
		ScheduleType:        string(s.Type),
		Enabled:             s.Enabled,
		MaxExecutionsPerDay: s.MaxExecutionsPerDay,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

// GetScheduleStatus handles GET /schedules/{id}/status.
func (h *Handlers) GetScheduleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scheduleID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid schedule id", http.StatusBadRequest)
		return
	}

	org, ok := middleware.OrgFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	schedule, err := h.store.GetScheduleByID(ctx, scheduleID)
	if err != nil || schedule.OwnerID != org.ID {
		h.httpError(w, "Schedule not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, scheduleStatus(schedule))
}
