package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWebhookNotifier_Delivers(t *testing.T) {
	var gotAuth string
	var gotOutcome Outcome

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotOutcome); err != nil {
			t.Errorf("failed to decode outcome: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "secret-token")
	outcome := Outcome{
		ScheduleID:  uuid.New(),
		ExecutionID: uuid.New(),
		Success:     true,
		CompletedAt: time.Now(),
	}

	if err := n.ScheduleOutcome(context.Background(), outcome); err != nil {
		t.Fatalf("ScheduleOutcome failed: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("got auth header %q", gotAuth)
	}
	if gotOutcome.ScheduleID != outcome.ScheduleID {
		t.Errorf("got schedule_id %v, want %v", gotOutcome.ScheduleID, outcome.ScheduleID)
	}
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, "secret-token")
	if err := n.ScheduleOutcome(context.Background(), Outcome{}); err == nil {
		t.Error("expected error for non-2xx response")
	}
}
