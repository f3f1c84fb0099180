package handlers

import (
	"net/http"
	"time"

	"agentplane/internal/metrics"
	"agentplane/pkg/api"

	"github.com/google/uuid"
)

// Dashboard handles GET /internal/metrics/dashboard.
// Cross-tenant rollup for the admin UI.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.metrics.Dashboard(r.Context(), h.runtimes.ActiveRuntimes())
	if err != nil {
		h.httpError(w, "Failed to compute dashboard", http.StatusInternalServerError)
		return
	}

	resp := api.DashboardResponse{
		TotalExecutions:  d.TotalExecutions,
		ActiveRuntimes:   d.ActiveRuntimes,
		OverallErrorRate: d.OverallErrorRate,
		Organizations:    make([]api.OrgMetricsSummary, 0, len(d.Organizations)),
		TopAgents:        agentEntries(d.TopAgents),
		ProblemAgents:    agentEntries(d.ProblemAgents),
		GeneratedAt:      d.GeneratedAt,
	}
	for _, org := range d.Organizations {
		resp.Organizations = append(resp.Organizations, api.OrgMetricsSummary{
			OrganizationID: org.RuntimeID.String(),
			Executions:     org.Executions,
			ErrorRate:      org.ErrorRate,
			AvgExecutionMS: org.AvgExecutionMS,
			HealthScore:    org.HealthScore,
		})
	}

	h.respondJson(w, http.StatusOK, resp)
}

// RuntimeMetrics handles GET /internal/runtimes/{id}/metrics.
func (h *Handlers) RuntimeMetrics(w http.ResponseWriter, r *http.Request) {
	runtimeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid runtime id", http.StatusBadRequest)
		return
	}

	m, err := h.metrics.RuntimeMetrics(r.Context(), runtimeID)
	if err != nil {
		h.httpError(w, "Failed to compute runtime metrics", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, snapshotResponse(m))
}

// RuntimeMetricsHistory handles
// GET /internal/runtimes/{id}/metrics/history?start=&end=.
// start and end are RFC 3339; they default to the trailing hour.
func (h *Handlers) RuntimeMetricsHistory(w http.ResponseWriter, r *http.Request) {
	runtimeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid runtime id", http.StatusBadRequest)
		return
	}

	end := time.Now().UTC()
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			h.httpError(w, "Invalid end time, want RFC 3339", http.StatusBadRequest)
			return
		}
	}
	start := end.Add(-time.Hour)
	if raw := r.URL.Query().Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			h.httpError(w, "Invalid start time, want RFC 3339", http.StatusBadRequest)
			return
		}
	}
	if start.After(end) {
		h.httpError(w, "start must not be after end", http.StatusBadRequest)
		return
	}

	snaps, err := h.metrics.History(r.Context(), runtimeID, start, end)
	if err != nil {
		h.httpError(w, "Failed to load metrics history", http.StatusInternalServerError)
		return
	}

	resp := api.RuntimeMetricsHistoryResponse{
		RuntimeID: runtimeID.String(),
		Start:     start,
		End:       end,
		Snapshots: make([]api.RuntimeMetricsResponse, 0, len(snaps)),
	}
	for _, m := range snaps {
		resp.Snapshots = append(resp.Snapshots, snapshotResponse(m))
	}

	h.respondJson(w, http.StatusOK, resp)
}

func snapshotResponse(m metrics.RuntimeMetrics) api.RuntimeMetricsResponse {
	return api.RuntimeMetricsResponse{
		RuntimeID:           m.RuntimeID.String(),
		ExecutionsPerMinute: m.ExecutionsPerMinute,
		SuccessRate:         m.SuccessRate,
		ErrorRate:           m.ErrorRate,
		AvgExecutionMS:      m.AvgExecutionMS,
		HealthScore:         m.HealthScore,
		CapturedAt:          m.CapturedAt,
	}
}

func agentEntries(stats []metrics.AgentStats) []api.AgentMetricsEntry {
	out := make([]api.AgentMetricsEntry, 0, len(stats))
	for _, s := range stats {
		out = append(out, api.AgentMetricsEntry{
			AgentID:        s.AgentID.String(),
			Executions:     s.Executions,
			ErrorRate:      s.ErrorRate,
			AvgExecutionMS: s.AvgExecutionMS,
		})
	}
	return out
}
