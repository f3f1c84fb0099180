package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agentplane/internal/store"
	"agentplane/pkg/api"

	"github.com/google/uuid"
)

func TestCreateSchedule_IntervalMaterializesWindow(t *testing.T) {
	org := testOrg()
	agent := activeAgent(org.ID)
	m := &mockStore{getAgentResp: agent, hasAccessResp: true}
	h := newTestHandlers(m, &mockWaiter{})

	body := strings.NewReader(`{"agent_id": "` + agent.ID.String() + `", "schedule_type": "interval", "interval_minutes": 60}`)
	req := authedRequest(http.MethodPost, "/schedules", body, org)
	rr := httptest.NewRecorder()

	h.CreateSchedule(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var resp api.CreateScheduleResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Materialized != m.insertedScheduled {
		t.Errorf("response reports %d materialized, store saw %d", resp.Materialized, m.insertedScheduled)
	}
	if resp.Materialized == 0 {
		t.Error("an hourly schedule must materialize executions in the look-ahead window")
	}
	if m.capturedSchedule.OwnerID != org.ID {
		t.Error("schedule not scoped to the calling organization")
	}
}

func TestCreateSchedule_ValidationFailure(t *testing.T) {
	org := testOrg()
	agent := activeAgent(org.ID)
	m := &mockStore{getAgentResp: agent, hasAccessResp: true}
	h := newTestHandlers(m, &mockWaiter{})

	// Interval below the 5 minute floor.
	body := strings.NewReader(`{"agent_id": "` + agent.ID.String() + `", "schedule_type": "interval", "interval_minutes": 1}`)
	req := authedRequest(http.MethodPost, "/schedules", body, org)
	rr := httptest.NewRecorder()

	h.CreateSchedule(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want %d: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}
}

func TestCreateSchedule_NoAccess(t *testing.T) {
	org := testOrg()
	agent := activeAgent(uuid.New())
	m := &mockStore{getAgentResp: agent, hasAccessResp: false}
	h := newTestHandlers(m, &mockWaiter{})

	body := strings.NewReader(`{"agent_id": "` + agent.ID.String() + `", "schedule_type": "interval", "interval_minutes": 60}`)
	req := authedRequest(http.MethodPost, "/schedules", body, org)
	rr := httptest.NewRecorder()

	h.CreateSchedule(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("got status %d, want %d: %s", rr.Code, http.StatusForbidden, rr.Body.String())
	}
}

func TestUpdateSchedule_Disable(t *testing.T) {
	org := testOrg()
	interval := 60
	m := &mockStore{
		getScheduleResp: &store.Schedule{
			ID:              uuid.New(),
			AgentID:         uuid.New(),
			OwnerID:         org.ID,
			Type:            store.ScheduleTypeInterval,
			IntervalMinutes: &interval,
			Timezone:        "UTC",
			Enabled:         true,
		},
		skippedResp: 3,
	}
	h := newTestHandlers(m, &mockWaiter{})

	scheduleID := m.getScheduleResp.ID
	body := strings.NewReader(`{"enabled": false}`)
	req := authedRequest(http.MethodPatch, "/schedules/"+scheduleID.String(), body, org)
	req.SetPathValue("id", scheduleID.String())
	rr := httptest.NewRecorder()

	h.UpdateSchedule(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if m.capturedSchedule == nil || m.capturedSchedule.Enabled {
		t.Error("schedule was not disabled")
	}
}

func TestUpdateSchedule_WrongOwner(t *testing.T) {
	interval := 60
	m := &mockStore{
		getScheduleResp: &store.Schedule{
			ID:              uuid.New(),
			OwnerID:         uuid.New(), // different organization
			Type:            store.ScheduleTypeInterval,
			IntervalMinutes: &interval,
			Enabled:         true,
		},
	}
	h := newTestHandlers(m, &mockWaiter{})

	scheduleID := m.getScheduleResp.ID
	req := authedRequest(http.MethodPatch, "/schedules/"+scheduleID.String(), strings.NewReader(`{"enabled": false}`), testOrg())
	req.SetPathValue("id", scheduleID.String())
	rr := httptest.NewRecorder()

	h.UpdateSchedule(rr, req)

	// Existence is not leaked across organizations.
	if rr.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d: %s", rr.Code, http.StatusNotFound, rr.Body.String())
	}
}

func TestGetScheduleStatus(t *testing.T) {
	org := testOrg()
	m := &mockStore{
		getScheduleResp: &store.Schedule{
			ID:                  uuid.New(),
			AgentID:             uuid.New(),
			OwnerID:             org.ID,
			Type:                store.ScheduleTypeCron,
			Enabled:             true,
			MaxExecutionsPerDay: 100,
			CreatedAt:           time.Now(),
			UpdatedAt:           time.Now(),
		},
	}
	h := newTestHandlers(m, &mockWaiter{})

	scheduleID := m.getScheduleResp.ID
	req := authedRequest(http.MethodGet, "/schedules/"+scheduleID.String()+"/status", nil, org)
	req.SetPathValue("id", scheduleID.String())
	rr := httptest.NewRecorder()

	h.GetScheduleStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var resp api.ScheduleStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.ScheduleType != "cron" || !resp.Enabled {
		t.Errorf("unexpected status payload: %+v", resp)
	}
}
