package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateSchedule(ctx context.Context, tx store.DBTransaction, schedule *store.Schedule) error {
	query := `
		INSERT INTO schedules (
			id, agent_id, owner_id, schedule_type, interval_minutes, cron_expression,
			webhook_endpoint, timezone, enabled, max_executions_per_day,
			retry_on_failure, notify_on_success, notify_on_failure, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, query,
		schedule.ID, schedule.AgentID, schedule.OwnerID, schedule.Type,
		schedule.IntervalMinutes, schedule.CronExpression, schedule.WebhookEndpoint,
		schedule.Timezone, schedule.Enabled, schedule.MaxExecutionsPerDay,
		schedule.RetryOnFailure, schedule.NotifyOnSuccess, schedule.NotifyOnFailure,
		schedule.CreatedAt, schedule.UpdatedAt,
	)
	return err
}

func (s *Store) GetScheduleByID(ctx context.Context, id uuid.UUID) (*store.Schedule, error) {
	query := `
		SELECT id, agent_id, owner_id, schedule_type, interval_minutes, cron_expression,
		       webhook_endpoint, timezone, enabled, max_executions_per_day,
		       retry_on_failure, notify_on_success, notify_on_failure, created_at, updated_at
		FROM schedules WHERE id = $1
	`

	var sc store.Schedule
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sc.ID, &sc.AgentID, &sc.OwnerID, &sc.Type, &sc.IntervalMinutes,
		&sc.CronExpression, &sc.WebhookEndpoint, &sc.Timezone, &sc.Enabled,
		&sc.MaxExecutionsPerDay, &sc.RetryOnFailure, &sc.NotifyOnSuccess,
		&sc.NotifyOnFailure, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// UpdateSchedule persists the full schedule row, scoped to the owning
// organization so a tenant can never mutate another tenant's schedule.
func (s *Store) UpdateSchedule(ctx context.Context, tx store.DBTransaction, schedule *store.Schedule) error {
	query := `
		UPDATE schedules SET
			schedule_type = $1, interval_minutes = $2, cron_expression = $3,
			webhook_endpoint = $4, timezone = $5, enabled = $6,
			max_executions_per_day = $7, retry_on_failure = $8,
			notify_on_success = $9, notify_on_failure = $10, updated_at = $11
		WHERE id = $12 AND owner_id = $13
	`

	executor := s.getExecutor(tx)
	res, err := executor.ExecContext(ctx, query,
		schedule.Type, schedule.IntervalMinutes, schedule.CronExpression,
		schedule.WebhookEndpoint, schedule.Timezone, schedule.Enabled,
		schedule.MaxExecutionsPerDay, schedule.RetryOnFailure,
		schedule.NotifyOnSuccess, schedule.NotifyOnFailure, schedule.UpdatedAt,
		schedule.ID, schedule.OwnerID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("schedule %s not found for owner %s", schedule.ID, schedule.OwnerID)
	}
	return nil
}

// ListEnabledSchedules returns enabled interval and cron schedules for
// window refill. Webhook-triggered schedules never materialize.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]store.Schedule, error) {
	query := `
		SELECT id, agent_id, owner_id, schedule_type, interval_minutes, cron_expression,
		       webhook_endpoint, timezone, enabled, max_executions_per_day,
		       retry_on_failure, notify_on_success, notify_on_failure, created_at, updated_at
		FROM schedules
		WHERE enabled = TRUE AND schedule_type IN ('interval', 'cron')
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("enabled schedules query failed: %w", err)
	}
	defer rows.Close()

	var schedules []store.Schedule
	for rows.Next() {
		var sc store.Schedule
		if err := rows.Scan(
			&sc.ID, &sc.AgentID, &sc.OwnerID, &sc.Type, &sc.IntervalMinutes,
			&sc.CronExpression, &sc.WebhookEndpoint, &sc.Timezone, &sc.Enabled,
			&sc.MaxExecutionsPerDay, &sc.RetryOnFailure, &sc.NotifyOnSuccess,
			&sc.NotifyOnFailure, &sc.CreatedAt, &sc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}

	return schedules, rows.Err()
}

// InsertScheduledExecutions batch-inserts materialized executions in a
// single statement.
func (s *Store) InsertScheduledExecutions(ctx context.Context, tx store.DBTransaction, execs []store.ScheduledExecution) error {
	if len(execs) == 0 {
		return nil
	}

	query := `
		INSERT INTO scheduled_executions (id, schedule_id, agent_id, owner_id, scheduled_for, status, created_at)
		VALUES `
	args := make([]interface{}, 0, len(execs)*7)
	for i, e := range execs {
		if i > 0 {
			query += ", "
		}
		base := i * 7
		query += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, e.ID, e.ScheduleID, e.AgentID, e.OwnerID, e.ScheduledFor, e.Status, e.CreatedAt)
	}

	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) CountScheduledInWindow(ctx context.Context, scheduleID uuid.UUID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM scheduled_executions
		WHERE schedule_id = $1 AND scheduled_for >= $2 AND scheduled_for < $3 AND status = $4
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, scheduleID, from, to, store.ScheduledStatusScheduled).Scan(&count)
	return count, err
}

// LatestScheduledFor returns the latest materialized occurrence of the
// schedule. Materialization resumes from here so repeated passes never
// duplicate occurrences.
func (s *Store) LatestScheduledFor(ctx context.Context, scheduleID uuid.UUID) (*time.Time, error) {
	var latest *time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(scheduled_for) FROM scheduled_executions WHERE schedule_id = $1",
		scheduleID,
	).Scan(&latest)
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// SkipPendingScheduledExecutions marks every scheduled row of the schedule
// skipped. Skipped is terminal and only ever reached this way.
func (s *Store) SkipPendingScheduledExecutions(ctx context.Context, tx store.DBTransaction, scheduleID uuid.UUID) (int64, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE scheduled_executions
		SET status = $1
		WHERE schedule_id = $2 AND status = $3
	`, store.ScheduledStatusSkipped, scheduleID, store.ScheduledStatusScheduled)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// ListDueScheduledExecutions returns up to limit due executions belonging
// to enabled schedules, oldest first.
func (s *Store) ListDueScheduledExecutions(ctx context.Context, now time.Time, limit int) ([]store.ScheduledExecution, error) {
	query := `
		SELECT se.id, se.schedule_id, se.agent_id, se.owner_id, se.scheduled_for, se.status, se.created_at
		FROM scheduled_executions se
		JOIN schedules sc ON se.schedule_id = sc.id
		WHERE se.status = $1 AND se.scheduled_for <= $2 AND sc.enabled = TRUE
		ORDER BY se.scheduled_for ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, store.ScheduledStatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due scheduled executions query failed: %w", err)
	}
	defer rows.Close()

	var execs []store.ScheduledExecution
	for rows.Next() {
		var e store.ScheduledExecution
		if err := rows.Scan(&e.ID, &e.ScheduleID, &e.AgentID, &e.OwnerID, &e.ScheduledFor, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}

	return execs, rows.Err()
}

// ClaimScheduledExecution transitions one row from scheduled to executing.
// The status guard in the WHERE clause makes concurrent reconciliation
// passes safe: only one of them observes an affected row.
func (s *Store) ClaimScheduledExecution(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_executions
		SET status = $1
		WHERE id = $2 AND status = $3
	`, store.ScheduledStatusExecuting, id, store.ScheduledStatusScheduled)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// FinishScheduledExecution records the terminal outcome of a dispatched
// scheduled execution. Terminal rows are never updated again.
func (s *Store) FinishScheduledExecution(ctx context.Context, id uuid.UUID, status store.ScheduledExecutionStatus, result json.RawMessage, executionTimeMS int64, errMsg *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_executions
		SET status = $1, result = $2, execution_time_ms = $3, error_message = $4
		WHERE id = $5 AND status = $6
	`, status, result, executionTimeMS, errMsg, id, store.ScheduledStatusExecuting)
	return err
}

func (s *Store) CountRecentFailures(ctx context.Context, agentID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM executions
		WHERE agent_id = $1 AND status = $2 AND completed_at >= $3
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, agentID, store.ExecutionStatusFailed, since).Scan(&count)
	return count, err
}
