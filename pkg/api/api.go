// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the controller, and the worker.
package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CreateOrganizationRequest is the request body for creating a new tenant.
type CreateOrganizationRequest struct {
	Name string `json:"name"`
	Tier string `json:"tier,omitempty"`
}

// CreateOrganizationResponse is the response body after creating a tenant.
// The raw API key is returned exactly once.
type CreateOrganizationResponse struct {
	ID     string `json:"organization_id"`
	Name   string `json:"name"`
	Tier   string `json:"tier"`
	ApiKey string `json:"api_key"`
}

// CreateAgentRequest is the request body for publishing a new agent.
type CreateAgentRequest struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Image          string   `json:"image"`
	Command        []string `json:"command,omitempty"`
	DefaultTimeout int      `json:"default_timeout,omitempty"`
	MemoryLimitMB  int      `json:"memory_limit_mb,omitempty"`
}

// CreateAgentResponse is the response body after publishing an agent.
type CreateAgentResponse struct {
	AgentID string `json:"agent_id"`
}

// RunAgentRequest is the request body for a manual execution.
type RunAgentRequest struct {
	Input json.RawMessage `json:"input,omitempty"`
	// Priority must be >= 1 for manual runs; defaults to 1.
	Priority int `json:"priority,omitempty"`
	// MaxRetries defaults to 0 for manual runs.
	MaxRetries int `json:"max_retries,omitempty"`
	// Wait blocks the request until the execution reaches a terminal
	// state or the wait times out.
	Wait bool `json:"wait,omitempty"`
}

// RunAgentResponse is the response body after triggering an execution.
type RunAgentResponse struct {
	ExecutionID string          `json:"execution_id"`
	Status      string          `json:"status,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// AgentStatusResponse is the response body for agent status queries.
type AgentStatusResponse struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
}

// StopAgentResponse reports how many pending executions were cancelled.
type StopAgentResponse struct {
	AgentID   string `json:"agent_id"`
	Cancelled int64  `json:"cancelled_pending"`
}

// NotificationPreferences controls which outcomes trigger the notification
// callback for a schedule.
type NotificationPreferences struct {
	OnSuccess bool `json:"on_success"`
	OnFailure bool `json:"on_failure"`
}

// CreateScheduleRequest is the request body for creating a schedule.
// Exactly one of interval_minutes/cron_expression/webhook_endpoint must be
// set, matching schedule_type.
type CreateScheduleRequest struct {
	AgentID             string                  `json:"agent_id" validate:"required,uuid"`
	ScheduleType        string                  `json:"schedule_type" validate:"required,oneof=interval cron webhook_trigger"`
	IntervalMinutes     *int                    `json:"interval_minutes,omitempty" validate:"omitempty,min=5"`
	CronExpression      *string                 `json:"cron_expression,omitempty" validate:"omitempty,cron"`
	WebhookEndpoint     *string                 `json:"webhook_endpoint,omitempty" validate:"omitempty,min=1"`
	Timezone            string                  `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Enabled             *bool                   `json:"enabled,omitempty"`
	MaxExecutionsPerDay int                     `json:"max_executions_per_day,omitempty" validate:"omitempty,min=1,max=1440"`
	RetryOnFailure      bool                    `json:"retry_on_failure,omitempty"`
	Notifications       NotificationPreferences `json:"notification_preferences,omitempty"`
}

// CreateScheduleResponse is the response body after creating a schedule.
type CreateScheduleResponse struct {
	ScheduleID   string `json:"schedule_id"`
	Materialized int    `json:"materialized_executions"`
}

// UpdateScheduleRequest carries partial field updates for a schedule.
// Nil fields are left unchanged.
type UpdateScheduleRequest struct {
	Enabled             *bool                    `json:"enabled,omitempty"`
	IntervalMinutes     *int                     `json:"interval_minutes,omitempty" validate:"omitempty,min=5"`
	CronExpression      *string                  `json:"cron_expression,omitempty" validate:"omitempty,cron"`
	Timezone            *string                  `json:"timezone,omitempty" validate:"omitempty,timezone"`
	MaxExecutionsPerDay *int                     `json:"max_executions_per_day,omitempty" validate:"omitempty,min=1,max=1440"`
	RetryOnFailure      *bool                    `json:"retry_on_failure,omitempty"`
	Notifications       *NotificationPreferences `json:"notification_preferences,omitempty"`
}

// ScheduleStatusResponse is the response body for schedule status queries.
type ScheduleStatusResponse struct {
	ID                  string    `json:"id"`
	AgentID             string    `json:"agent_id"`
	ScheduleType        string    `json:"schedule_type"`
	Enabled             bool      `json:"enabled"`
	MaxExecutionsPerDay int       `json:"max_executions_per_day"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ExecutionResponse represents an execution in API responses.
type ExecutionResponse struct {
	ID              string          `json:"id"`
	AgentID         string          `json:"agent_id"`
	Status          string          `json:"status"`
	Priority        int             `json:"priority"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	Result          json.RawMessage `json:"result,omitempty"`
	LastError       *string         `json:"last_error,omitempty"`
	ExecutionTimeMS *int64          `json:"execution_time_ms,omitempty"`
	MemoryUsedMB    *int            `json:"memory_used_mb,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// EnqueueRequest is the internal enqueue contract consumed by the webhook
// ingestion collaborator. The payload is trusted to be pre-validated.
type EnqueueRequest struct {
	AgentID    string          `json:"agent_id"`
	OwnerID    string          `json:"owner_id"`
	Priority   int             `json:"priority"`
	MaxRetries int             `json:"max_retries"`
	Payload    json.RawMessage `json:"payload"`
}

// EnqueueResponse returns the queue item ID for an internal enqueue.
type EnqueueResponse struct {
	ExecutionID string `json:"execution_id"`
}

// SchedulerTickResponse aggregates one reconciliation pass.
type SchedulerTickResponse struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ExecutionPayload is the queue item payload. The agent definition is
// embedded so workers do not have to query the agents table per item, and
// the trace carrier propagates the enqueuing span across the queue.
type ExecutionPayload struct {
	Agent                AgentSpec         `json:"agent"`
	Input                json.RawMessage   `json:"input,omitempty"`
	Scheduled            bool              `json:"scheduled,omitempty"`
	ScheduledExecutionID *uuid.UUID        `json:"scheduled_execution_id,omitempty"`
	Webhook              *WebhookEnvelope  `json:"webhook,omitempty"`
	Trace                map[string]string `json:"trace,omitempty"`
}

// AgentSpec is the runtime-facing slice of an agent definition.
type AgentSpec struct {
	ID             uuid.UUID `json:"id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Image          string    `json:"image"`
	Command        []string  `json:"command,omitempty"`
	DefaultTimeout int       `json:"default_timeout,omitempty"`
	MemoryLimitMB  int       `json:"memory_limit_mb,omitempty"`
}

// WebhookEnvelope wraps an inbound webhook request for webhook-triggered
// executions. Signature verification happens upstream.
type WebhookEnvelope struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// DashboardResponse is the cross-tenant metrics rollup consumed by the
// admin UI.
type DashboardResponse struct {
	TotalExecutions  int64               `json:"total_executions"`
	ActiveRuntimes   int                 `json:"active_runtimes"`
	OverallErrorRate float64             `json:"overall_error_rate"`
	Organizations    []OrgMetricsSummary `json:"organizations"`
	TopAgents        []AgentMetricsEntry `json:"top_performing_agents"`
	ProblemAgents    []AgentMetricsEntry `json:"problematic_agents"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

// OrgMetricsSummary is the per-organization dashboard breakdown.
type OrgMetricsSummary struct {
	OrganizationID string  `json:"organization_id"`
	Executions     int64   `json:"executions"`
	ErrorRate      float64 `json:"error_rate"`
	AvgExecutionMS float64 `json:"avg_execution_time_ms"`
	HealthScore    float64 `json:"health_score"`
}

// AgentMetricsEntry identifies an agent in dashboard rankings.
type AgentMetricsEntry struct {
	AgentID        string  `json:"agent_id"`
	Executions     int64   `json:"executions"`
	ErrorRate      float64 `json:"error_rate"`
	AvgExecutionMS float64 `json:"avg_execution_time_ms"`
}

// RuntimeMetricsResponse is one computed metrics snapshot for a runtime.
type RuntimeMetricsResponse struct {
	RuntimeID           string    `json:"runtime_id"`
	ExecutionsPerMinute float64   `json:"executions_per_minute"`
	SuccessRate         float64   `json:"success_rate"`
	ErrorRate           float64   `json:"error_rate"`
	AvgExecutionMS      float64   `json:"avg_execution_time_ms"`
	HealthScore         float64   `json:"health_score"`
	CapturedAt          time.Time `json:"captured_at"`
}

// RuntimeMetricsHistoryResponse is the per-minute snapshot series for a
// runtime inside a time range.
type RuntimeMetricsHistoryResponse struct {
	RuntimeID string                   `json:"runtime_id"`
	Start     time.Time                `json:"start"`
	End       time.Time                `json:"end"`
	Snapshots []RuntimeMetricsResponse `json:"snapshots"`
}
