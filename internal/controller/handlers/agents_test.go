package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentplane/internal/store"
	"agentplane/pkg/api"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
)

func activeAgent(ownerID uuid.UUID) *store.Agent {
	return &store.Agent{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Name:    "report-builder",
		Type:    store.AgentTypeSimple,
		Image:   "registry.example.com/report-builder:v3",
		Status:  store.AgentStatusActive,
	}
}

func TestCreateAgent_Success(t *testing.T) {
	m := &mockStore{}
	h := newTestHandlers(m, &mockWaiter{})
	org := testOrg()

	body := strings.NewReader(`{"name": "report-builder", "type": "advanced", "image": "registry.example.com/rb:v3", "memory_limit_mb": 256}`)
	req := authedRequest(http.MethodPost, "/agents", body, org)
	rr := httptest.NewRecorder()

	h.CreateAgent(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if m.capturedAgent.OwnerID != org.ID {
		t.Error("agent not scoped to the calling organization")
	}
	if m.capturedAgent.Type != store.AgentTypeAdvanced {
		t.Errorf("got type %q, want advanced", m.capturedAgent.Type)
	}
	if m.capturedAgent.Status != store.AgentStatusActive {
		t.Errorf("new agents must start active, got %q", m.capturedAgent.Status)
	}
}

func TestCreateAgent_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing image", `{"name": "x", "type": "simple"}`},
		{"missing name", `{"type": "simple", "image": "img"}`},
		{"bad type", `{"name": "x", "type": "mystery", "image": "img"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(&mockStore{}, &mockWaiter{})
			req := authedRequest(http.MethodPost, "/agents", strings.NewReader(tt.body), testOrg())
			rr := httptest.NewRecorder()

			h.CreateAgent(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("got status %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestRunAgent_NotFound(t *testing.T) {
	m := &mockStore{getAgentErr: apperr.New(apperr.CodeNotFound, "no such agent")}
	h := newTestHandlers(m, &mockWaiter{})

	req := authedRequest(http.MethodPost, "/agents/"+uuid.NewString()+"/run", nil, testOrg())
	req.SetPathValue("id", uuid.NewString())
	rr := httptest.NewRecorder()

	h.RunAgent(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestRunAgent_NoAccess(t *testing.T) {
	org := testOrg()
	m := &mockStore{getAgentResp: activeAgent(uuid.New()), hasAccessResp: false}
	h := newTestHandlers(m, &mockWaiter{})

	agentID := m.getAgentResp.ID
	req := authedRequest(http.MethodPost, "/agents/"+agentID.String()+"/run", nil, org)
	req.SetPathValue("id", agentID.String())
	rr := httptest.NewRecorder()

	h.RunAgent(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusForbidden)
	}
	if m.capturedExecution != nil {
		t.Error("nothing should be enqueued without access")
	}
}

func TestRunAgent_StoppedAgent(t *testing.T) {
	org := testOrg()
	agent := activeAgent(org.ID)
	agent.Status = store.AgentStatusStopped
	m := &mockStore{getAgentResp: agent, hasAccessResp: true}
	h := newTestHandlers(m, &mockWaiter{})

	req := authedRequest(http.MethodPost, "/agents/"+agent.ID.String()+"/run", nil, org)
	req.SetPathValue("id", agent.ID.String())
	rr := httptest.NewRecorder()

	h.RunAgent(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestRunAgent_FireAndForget(t *testing.T) {
	org := testOrg()
	agent := activeAgent(org.ID)
	m := &mockStore{getAgentResp: agent, hasAccessResp: true}
	h := newTestHandlers(m, &mockWaiter{})

	body := strings.NewReader(`{"input": {"report": "weekly"}}`)
	req := authedRequest(http.MethodPost, "/agents/"+agent.ID.String()+"/run", body, org)
	req.SetPathValue("id", agent.ID.String())
	rr := httptest.NewRecorder()

	h.RunAgent(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	if m.capturedExecution == nil {
		t.Fatal("nothing was enqueued")
	}
	if m.capturedExecution.Priority != store.PriorityManual {
		t.Errorf("got priority %d, want %d", m.capturedExecution.Priority, store.PriorityManual)
	}
	if m.capturedExecution.OwnerID != org.ID {
		t.Error("execution not scoped to the calling organization")
	}

	// The payload embeds the agent definition for the worker.
	var payload api.ExecutionPayload
	if err := json.Unmarshal(m.capturedExecution.Payload, &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.Agent.ID != agent.ID {
		t.Error("payload does not embed the agent definition")
	}
	if string(payload.Input) != `{"report":"weekly"}` {
		t.Errorf("payload input = %s", payload.Input)
	}
}

func TestRunAgent_WaitReturnsResult(t *testing.T) {
	org := testOrg()
	agent := activeAgent(org.ID)
	settled := &store.Execution{
		ID:     uuid.New(),
		Status: store.ExecutionStatusCompleted,
		Result: json.RawMessage(`{"rows":42}`),
	}
	m := &mockStore{getAgentResp: agent, hasAccessResp: true}
	h := newTestHandlers(m, &mockWaiter{exec: settled})

	body := strings.NewReader(`{"wait": true}`)
	req := authedRequest(http.MethodPost, "/agents/"+agent.ID.String()+"/run", body, org)
	req.SetPathValue("id", agent.ID.String())
	rr := httptest.NewRecorder()

	h.RunAgent(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp api.RunAgentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Status != string(store.ExecutionStatusCompleted) {
		t.Errorf("got status %q, want completed", resp.Status)
	}
	if string(resp.Result) != `{"rows":42}` {
		t.Errorf("got result %s", resp.Result)
	}
}

func TestRunAgent_WaitTimeout(t *testing.T) {
	org := testOrg()
	agent := activeAgent(org.ID)
	m := &mockStore{getAgentResp: agent, hasAccessResp: true}
	h := newTestHandlers(m, &mockWaiter{err: apperr.New(apperr.CodeExecutionTimeout, "execution timed out")})

	body := strings.NewReader(`{"wait": true}`)
	req := authedRequest(http.MethodPost, "/agents/"+agent.ID.String()+"/run", body, org)
	req.SetPathValue("id", agent.ID.String())
	rr := httptest.NewRecorder()

	h.RunAgent(rr, req)

	// The execution keeps running; the caller gets the ID to poll.
	if rr.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusAccepted)
	}

	var resp api.RunAgentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.ExecutionID == "" {
		t.Error("response must carry the execution id for polling")
	}
}

func TestStopAgent_CancelsPending(t *testing.T) {
	org := testOrg()
	m := &mockStore{cancelPendingResp: 4}
	h := newTestHandlers(m, &mockWaiter{})

	agentID := uuid.New()
	req := authedRequest(http.MethodPost, "/agents/"+agentID.String()+"/stop", nil, org)
	req.SetPathValue("id", agentID.String())
	rr := httptest.NewRecorder()

	h.StopAgent(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if m.capturedStatus != store.AgentStatusStopped {
		t.Errorf("agent status set to %q, want stopped", m.capturedStatus)
	}

	var resp api.StopAgentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Cancelled != 4 {
		t.Errorf("got %d cancelled, want 4", resp.Cancelled)
	}
}

func TestStopAgent_WrongOwner(t *testing.T) {
	m := &mockStore{setAgentStatusErr: apperr.New(apperr.CodeNotFound, "no such agent")}
	h := newTestHandlers(m, &mockWaiter{})

	agentID := uuid.New()
	req := authedRequest(http.MethodPost, "/agents/"+agentID.String()+"/stop", nil, testOrg())
	req.SetPathValue("id", agentID.String())
	rr := httptest.NewRecorder()

	h.StopAgent(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGetAgentStatus(t *testing.T) {
	org := testOrg()
	agent := activeAgent(org.ID)
	m := &mockStore{getAgentResp: agent, hasAccessResp: true}
	h := newTestHandlers(m, &mockWaiter{})

	req := authedRequest(http.MethodGet, "/agents/"+agent.ID.String()+"/status", nil, org)
	req.SetPathValue("id", agent.ID.String())
	rr := httptest.NewRecorder()

	h.GetAgentStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"status":"active"`) {
		t.Errorf("body missing status: %s", rr.Body.String())
	}
}
