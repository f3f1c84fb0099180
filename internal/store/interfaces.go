package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active transaction
// to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// OrganizationStore handles tenant records and API-key authentication.
type OrganizationStore interface {
	// CreateOrganization inserts a new organization with its hashed API key.
	CreateOrganization(ctx context.Context, org *Organization, hashedKey string) error

	// GetOrganizationByID returns an organization by its ID.
	GetOrganizationByID(ctx context.Context, id uuid.UUID) (*Organization, error)

	// GetOrganizationByAPIKeyHash returns an organization by its API key hash.
	GetOrganizationByAPIKeyHash(ctx context.Context, hash string) (*Organization, error)
}

// AgentStore handles the persistence of agent definitions.
type AgentStore interface {
	// CreateAgent inserts a new agent definition.
	CreateAgent(ctx context.Context, tx DBTransaction, agent *Agent) error

	// GetAgentByID returns an agent by its ID.
	GetAgentByID(ctx context.Context, id uuid.UUID) (*Agent, error)

	// SetAgentStatus transitions an agent between active and stopped,
	// scoped to the owning organization.
	SetAgentStatus(ctx context.Context, tx DBTransaction, agentID, ownerID uuid.UUID, status AgentStatus) error

	// HasActiveAccess reports whether the organization owns the agent or
	// holds an active purchase record for it. This backs the permission
	// check delegated to the marketplace.
	HasActiveAccess(ctx context.Context, orgID, agentID uuid.UUID) (bool, error)
}

// ScheduleStore handles schedule configurations and the scheduled
// executions materialized from them.
type ScheduleStore interface {
	// CreateSchedule inserts a new schedule configuration.
	CreateSchedule(ctx context.Context, tx DBTransaction, schedule *Schedule) error

	// GetScheduleByID returns a schedule by its ID.
	GetScheduleByID(ctx context.Context, id uuid.UUID) (*Schedule, error)

	// UpdateSchedule persists field updates, scoped to the owning
	// organization. Returns sql.ErrNoRows semantics via a wrapped error if
	// the schedule does not belong to ownerID.
	UpdateSchedule(ctx context.Context, tx DBTransaction, schedule *Schedule) error

	// ListEnabledSchedules returns every enabled interval or cron schedule.
	// Webhook-triggered schedules never materialize and are excluded.
	ListEnabledSchedules(ctx context.Context) ([]Schedule, error)

	// InsertScheduledExecutions batch-inserts materialized executions.
	InsertScheduledExecutions(ctx context.Context, tx DBTransaction, execs []ScheduledExecution) error

	// CountScheduledInWindow returns the number of not-yet-terminal
	// scheduled executions for a schedule inside [from, to). Used to keep
	// materialization idempotent against max_executions_per_day.
	CountScheduledInWindow(ctx context.Context, scheduleID uuid.UUID, from, to time.Time) (int, error)

	// LatestScheduledFor returns the latest scheduled_for materialized for
	// the schedule, or nil when nothing has been materialized yet.
	LatestScheduledFor(ctx context.Context, scheduleID uuid.UUID) (*time.Time, error)

	// SkipPendingScheduledExecutions marks every scheduled row of the
	// schedule as skipped and returns how many were affected.
	SkipPendingScheduledExecutions(ctx context.Context, tx DBTransaction, scheduleID uuid.UUID) (int64, error)

	// ListDueScheduledExecutions returns up to limit scheduled executions
	// that are due (scheduled_for <= now) and belong to enabled schedules.
	ListDueScheduledExecutions(ctx context.Context, now time.Time, limit int) ([]ScheduledExecution, error)

	// ClaimScheduledExecution atomically transitions one row from
	// scheduled to executing. Returns false if another reconciliation
	// pass already claimed it.
	ClaimScheduledExecution(ctx context.Context, id uuid.UUID) (bool, error)

	// FinishScheduledExecution records the terminal outcome of a
	// dispatched scheduled execution.
	FinishScheduledExecution(ctx context.Context, id uuid.UUID, status ScheduledExecutionStatus, result json.RawMessage, executionTimeMS int64, errMsg *string) error

	// CountRecentFailures returns the number of failed executions for an
	// agent since the given time. Feeds the auto-disable alerting signal.
	CountRecentFailures(ctx context.Context, agentID uuid.UUID, since time.Time) (int, error)
}
