// Package notify delivers schedule outcome notifications to the
// marketplace platform.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Outcome describes the terminal result of one scheduled execution.
type Outcome struct {
	ScheduleID      uuid.UUID `json:"schedule_id"`
	AgentID         uuid.UUID `json:"agent_id"`
	OwnerID         uuid.UUID `json:"organization_id"`
	ExecutionID     uuid.UUID `json:"execution_id"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Notifier delivers outcomes to whoever the schedule asked to be told.
type Notifier interface {
	ScheduleOutcome(ctx context.Context, outcome Outcome) error
}

// LogNotifier writes outcomes to the structured log. Used when no
// notification endpoint is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ScheduleOutcome(_ context.Context, outcome Outcome) error {
	n.logger.Info("schedule outcome",
		"schedule_id", outcome.ScheduleID,
		"execution_id", outcome.ExecutionID,
		"success", outcome.Success,
		"error", outcome.Error,
	)
	return nil
}

// WebhookNotifier POSTs outcomes to the marketplace notification endpoint,
// authenticated with the shared platform secret.
type WebhookNotifier struct {
	client   *http.Client
	endpoint string
	secret   string
}

func NewWebhookNotifier(endpoint, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
		secret:   secret,
	}
}

func (n *WebhookNotifier) ScheduleOutcome(ctx context.Context, outcome Outcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.secret)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Alerter raises operational alerts that are not tied to a single
// execution.
type Alerter interface {
	AgentFailureSpike(ctx context.Context, agentID uuid.UUID, failures int, window time.Duration)
}

// LogAlerter surfaces alerts through the structured log so the log
// pipeline can route them.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) AgentFailureSpike(_ context.Context, agentID uuid.UUID, failures int, window time.Duration) {
	a.logger.Warn("agent failure spike",
		"agent_id", agentID,
		"failures", failures,
		"window", window.String(),
	)
}
