// Package store contains the database layer for agentplane.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for execution queue operations.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics so
// that at most one worker ever holds the pending->executing claim on an
// item. Dispatch order is priority ascending, then enqueue order.
type Queue interface {
	// Enqueue inserts a new pending execution into the queue.
	Enqueue(ctx context.Context, tx DBTransaction, execution *Execution) error

	// ClaimBatch atomically transitions up to limit claimable executions
	// from pending to executing for the calling worker. Returns a nil
	// slice if the queue is empty. When ownerIDs is non-empty the claim is
	// scoped to those organizations.
	ClaimBatch(ctx context.Context, ownerIDs []uuid.UUID, limit int) ([]ClaimedItem, error)

	// Complete marks an executing item completed and stores its result.
	Complete(ctx context.Context, tx DBTransaction, executionID uuid.UUID, result json.RawMessage, executionTimeMS int64, memoryUsedMB int) error

	// Fail records a failure. While the retry budget is not exhausted the
	// item returns to pending with an exponential-backoff visible_after;
	// otherwise it is marked terminally failed. Returns true when the
	// failure was terminal.
	Fail(ctx context.Context, tx DBTransaction, executionID uuid.UUID, errMsg string) (bool, error)

	// Release returns an executing item to pending without consuming its
	// retry budget. Used for infrastructure failures where the work never
	// ran.
	Release(ctx context.Context, tx DBTransaction, executionID uuid.UUID, retryAfter time.Duration) error

	// Cancel marks a pending item cancelled. Cancelling a claimed or
	// terminal item is a no-op.
	Cancel(ctx context.Context, tx DBTransaction, executionID uuid.UUID) error

	// CancelPendingForAgent cancels every pending item of the agent and
	// returns how many were affected.
	CancelPendingForAgent(ctx context.Context, tx DBTransaction, agentID uuid.UUID) (int64, error)

	// SetVisibleAfter extends the claim lease (worker heartbeat).
	SetVisibleAfter(ctx context.Context, tx DBTransaction, executionID uuid.UUID, visibleAfter time.Time) error

	// RequeueExpired returns executions whose claim lease expired (worker
	// died mid-run) to pending without consuming their retry budget.
	RequeueExpired(ctx context.Context, now time.Time) (int64, error)

	// GetExecutionByID returns an execution by its ID.
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*Execution, error)

	// Count returns the number of claimable items in the queue.
	Count(ctx context.Context) (int64, error)
}

// ClaimedItem represents a claimed execution handed to a worker.
type ClaimedItem struct {
	ExecutionID uuid.UUID
	AgentID     uuid.UUID
	OwnerID     uuid.UUID
	Payload     json.RawMessage
}
