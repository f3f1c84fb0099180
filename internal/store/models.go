// Package store contains the database layer for agentplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier determines the size of an organization's default memory
// pool and therefore how many concurrent agent executions it can sustain.
type SubscriptionTier string

const (
	TierStarter    SubscriptionTier = "starter"
	TierPro        SubscriptionTier = "pro"
	TierEnterprise SubscriptionTier = "enterprise"
)

// PoolSizeMB returns the default memory pool ceiling for the tier.
func (t SubscriptionTier) PoolSizeMB() int {
	switch t {
	case TierPro:
		return 1024
	case TierEnterprise:
		return 4096
	default:
		return 256
	}
}

// Organization represents a tenant in the multi-tenant system.
// All operations must be scoped by the organization ID.
type Organization struct {
	ID                      uuid.UUID
	Name                    string
	Tier                    SubscriptionTier
	RateLimit               int
	RateLimitBurst          int
	MaxConcurrentExecutions int
	CreatedAt               time.Time
}

// AgentType classifies an agent's trust level and selects its isolation
// tier: simple agents run directly, advanced agents run with monitoring,
// and enterprise agents run behind a hard out-of-process boundary.
type AgentType string

const (
	AgentTypeSimple     AgentType = "simple"
	AgentTypeAdvanced   AgentType = "advanced"
	AgentTypeEnterprise AgentType = "enterprise"
)

// AgentStatus represents the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusStopped AgentStatus = "stopped"
)

// Agent is a unit of purchasable automation code executed on behalf of a
// tenant. Image and Command describe what the runtime container runs.
type Agent struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	Name           string
	Type           AgentType
	Image          string
	Command        []string
	DefaultTimeout int // seconds
	MemoryLimitMB  int
	Status         AgentStatus
	CreatedAt      time.Time
}

// ScheduleType selects which trigger field of a Schedule is authoritative.
type ScheduleType string

const (
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeCron     ScheduleType = "cron"
	ScheduleTypeWebhook  ScheduleType = "webhook_trigger"
)

// Schedule is a recurring trigger configuration that produces executions.
// Exactly one of IntervalMinutes/CronExpression/WebhookEndpoint is set,
// matching Type.
type Schedule struct {
	ID                  uuid.UUID
	AgentID             uuid.UUID
	OwnerID             uuid.UUID
	Type                ScheduleType
	IntervalMinutes     *int
	CronExpression      *string
	WebhookEndpoint     *string
	Timezone            string
	Enabled             bool
	MaxExecutionsPerDay int
	RetryOnFailure      bool
	NotifyOnSuccess     bool
	NotifyOnFailure     bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ScheduledExecutionStatus represents the state of a materialized execution.
// Transitions are monotone forward only; skipped is terminal and reachable
// only from scheduled when the owning schedule is disabled.
type ScheduledExecutionStatus string

const (
	ScheduledStatusScheduled ScheduledExecutionStatus = "scheduled"
	ScheduledStatusExecuting ScheduledExecutionStatus = "executing"
	ScheduledStatusCompleted ScheduledExecutionStatus = "completed"
	ScheduledStatusFailed    ScheduledExecutionStatus = "failed"
	ScheduledStatusSkipped   ScheduledExecutionStatus = "skipped"
)

// ScheduledExecution is one concrete future execution materialized from a
// schedule inside the 24-hour look-ahead window.
type ScheduledExecution struct {
	ID              uuid.UUID
	ScheduleID      uuid.UUID
	AgentID         uuid.UUID
	OwnerID         uuid.UUID
	ScheduledFor    time.Time
	Status          ScheduledExecutionStatus
	Result          json.RawMessage
	ExecutionTimeMS *int64
	ErrorMessage    *string
	CreatedAt       time.Time
}

// ExecutionStatus represents the state of a queued execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusExecuting ExecutionStatus = "executing"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Queue item priorities. Lower is more urgent.
const (
	PriorityManual    = 1
	PriorityWebhook   = 3
	PriorityScheduled = 5
)

// Execution is one invocation request for an agent, tracked through the
// queue lifecycle. It is the queue item itself: pending rows whose
// visible_after is in the past are claimable by workers.
type Execution struct {
	ID              uuid.UUID
	AgentID         uuid.UUID
	OwnerID         uuid.UUID
	Status          ExecutionStatus
	Priority        int
	Payload         json.RawMessage
	RetryCount      int
	MaxRetries      int
	Result          json.RawMessage
	LastError       *string
	ExecutionTimeMS *int64
	MemoryUsedMB    *int
	CreatedAt       time.Time
	VisibleAfter    time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}
