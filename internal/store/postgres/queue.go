package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Claim lease and retry policy.
const (
	// ClaimLease is how long a claimed execution stays invisible before
	// RequeueExpired may hand it to another worker. Heartbeats extend it.
	ClaimLease = 5 * time.Minute

	// retryBackoffBase is the base of the exponential retry backoff
	// (base * 2^retry_count).
	retryBackoffBase = 10 * time.Second
)

// Enqueue inserts a new pending execution into the queue.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	if execution.VisibleAfter.IsZero() {
		execution.VisibleAfter = time.Now().UTC()
	}

	query := `
		INSERT INTO executions (id, agent_id, owner_id, status, priority, payload, retry_count, max_retries, created_at, visible_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, query,
		execution.ID, execution.AgentID, execution.OwnerID, execution.Status,
		execution.Priority, execution.Payload, execution.RetryCount,
		execution.MaxRetries, execution.CreatedAt, execution.VisibleAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue execution %s: %w", execution.ID, err)
	}

	return nil
}

// ClaimBatch claims up to 'limit' claimable executions atomically using
// SELECT ... FOR UPDATE SKIP LOCKED. Dispatch order is priority ascending,
// ties broken by enqueue order. Organizations already running at their
// max_concurrent_executions cap are skipped; numbering the pending rows
// per organization keeps a single batch from overshooting the cap.
// Returns nil slice if nothing is claimable.
func (s *Store) ClaimBatch(ctx context.Context, ownerIDs []uuid.UUID, limit int) ([]store.ClaimedItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	args := []interface{}{limit}
	whereClause := "WHERE status = 'pending' AND visible_after <= NOW()"

	if len(ownerIDs) > 0 {
		whereClause += " AND owner_id = ANY($2)"
		args = append(args, pq.Array(ownerIDs))
	}

	selectQuery := fmt.Sprintf(`
		WITH free_slots AS (
			SELECT o.id AS owner_id,
			       GREATEST(o.max_concurrent_executions - COUNT(e.id), 0) AS free
			FROM organizations o
			LEFT JOIN executions e ON e.owner_id = o.id AND e.status = 'executing'
			GROUP BY o.id, o.max_concurrent_executions
		), eligible AS (
			SELECT id,
			       ROW_NUMBER() OVER (PARTITION BY owner_id ORDER BY priority ASC, created_at ASC) AS slot
			FROM executions
			%s
		)
		SELECT x.id, x.agent_id, x.owner_id, x.payload
		FROM executions x
		JOIN eligible ON eligible.id = x.id
		JOIN free_slots ON free_slots.owner_id = x.owner_id
		WHERE eligible.slot <= free_slots.free
		ORDER BY x.priority ASC, x.created_at ASC
		FOR UPDATE OF x SKIP LOCKED
		LIMIT $1
	`, whereClause)

	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("claim query failed: %w", err)
	}
	defer rows.Close()

	var items []store.ClaimedItem
	var claimedIDs []uuid.UUID

	for rows.Next() {
		var item store.ClaimedItem
		if err := rows.Scan(&item.ExecutionID, &item.AgentID, &item.OwnerID, &item.Payload); err != nil {
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		items = append(items, item)
		claimedIDs = append(claimedIDs, item.ExecutionID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim rows error: %w", err)
	}

	if len(items) == 0 {
		return nil, nil
	}

	// Transition pending -> executing and start the claim lease.
	_, err = tx.ExecContext(ctx, `
		UPDATE executions
		SET status = 'executing',
		    started_at = COALESCE(started_at, NOW()),
		    visible_after = NOW() + ($1 * INTERVAL '1 second')
		WHERE id = ANY($2)
	`, ClaimLease.Seconds(), pq.Array(claimedIDs))
	if err != nil {
		return nil, fmt.Errorf("claim status update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return items, nil
}

// Complete marks an executing item completed and stores its result.
func (s *Store) Complete(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, result json.RawMessage, executionTimeMS int64, memoryUsedMB int) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		UPDATE executions
		SET status = 'completed', result = $1, execution_time_ms = $2, memory_used_mb = $3, completed_at = NOW()
		WHERE id = $4 AND status = 'executing'
	`, result, executionTimeMS, memoryUsedMB, executionID)
	return err
}

// Fail records a failed attempt and drives the retry state machine.
// While retry_count+1 stays below max_retries the item returns to pending
// with an exponential-backoff visible_after; otherwise it is terminally
// failed. Returns true when the failure was terminal.
func (s *Store) Fail(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, errMsg string) (bool, error) {
	executor := s.getExecutor(tx)

	var retryCount, maxRetries int
	err := executor.QueryRowContext(ctx,
		"SELECT retry_count, max_retries FROM executions WHERE id = $1 AND status = 'executing'",
		executionID,
	).Scan(&retryCount, &maxRetries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Not claimed (already terminal or requeued) - nothing to do.
			return false, fmt.Errorf("execution %s is not executing", executionID)
		}
		return false, err
	}

	if retryCount+1 >= maxRetries || maxRetries == 0 {
		// Retry budget exhausted: terminal failure.
		newCount := retryCount + 1
		if newCount > maxRetries {
			newCount = maxRetries
		}
		_, err = executor.ExecContext(ctx, `
			UPDATE executions
			SET status = 'failed', retry_count = $1, last_error = $2, completed_at = NOW()
			WHERE id = $3 AND status = 'executing'
		`, newCount, errMsg, executionID)
		return true, err
	}

	// Retry with exponential backoff.
	backoff := time.Duration(1<<retryCount) * retryBackoffBase
	_, err = executor.ExecContext(ctx, `
		UPDATE executions
		SET status = 'pending', retry_count = retry_count + 1, last_error = $1,
		    visible_after = NOW() + ($2 * INTERVAL '1 second')
		WHERE id = $3 AND status = 'executing'
	`, errMsg, backoff.Seconds(), executionID)
	return false, err
}

// Release returns an executing item to pending without consuming its retry
// budget. Used when the work never ran (memory pool full, storage
// unavailable).
func (s *Store) Release(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, retryAfter time.Duration) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		UPDATE executions
		SET status = 'pending', visible_after = NOW() + ($1 * INTERVAL '1 second')
		WHERE id = $2 AND status = 'executing'
	`, retryAfter.Seconds(), executionID)
	return err
}

// Cancel marks a pending item cancelled. Claimed and terminal items are
// left untouched: in-flight work runs to completion or timeout.
func (s *Store) Cancel(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		UPDATE executions
		SET status = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, executionID)
	return err
}

// CancelPendingForAgent cancels every pending item of the agent.
func (s *Store) CancelPendingForAgent(ctx context.Context, tx store.DBTransaction, agentID uuid.UUID) (int64, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE executions
		SET status = 'cancelled', completed_at = NOW()
		WHERE agent_id = $1 AND status = 'pending'
	`, agentID)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// SetVisibleAfter extends the claim lease (worker heartbeat).
func (s *Store) SetVisibleAfter(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, visibleAfter time.Time) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE executions
		SET visible_after = $1
		WHERE id = $2
	`, visibleAfter, executionID)
	return err
}

// RequeueExpired returns executions whose claim lease expired back to
// pending. The worker died mid-run; the attempt never counted, so the
// retry budget is untouched.
func (s *Store) RequeueExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = 'pending'
		WHERE status = 'executing' AND visible_after <= $1
	`, now)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// GetExecutionByID returns an execution by its ID.
func (s *Store) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	query := `
		SELECT id, agent_id, owner_id, status, priority, payload, retry_count, max_retries,
		       result, last_error, execution_time_ms, memory_used_mb,
		       created_at, visible_after, started_at, completed_at
		FROM executions WHERE id = $1
	`

	var e store.Execution
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.AgentID, &e.OwnerID, &e.Status, &e.Priority, &e.Payload,
		&e.RetryCount, &e.MaxRetries, &e.Result, &e.LastError,
		&e.ExecutionTimeMS, &e.MemoryUsedMB,
		&e.CreatedAt, &e.VisibleAfter, &e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// Count returns the number of claimable items, exposed as the queue depth
// gauge.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM executions WHERE status = 'pending' AND visible_after <= NOW()",
	).Scan(&count)
	return count, err
}
