package postgres

import (
	"context"
	"fmt"
	"time"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

// ExecutionStats aggregates settled executions per organization and agent
// since the window start.
func (s *Store) ExecutionStats(ctx context.Context, since, recentSince time.Time) ([]store.ExecutionStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, agent_id,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COALESCE(SUM(execution_time_ms), 0),
		       COUNT(*) FILTER (WHERE completed_at > $2)
		FROM executions
		WHERE status IN ('completed', 'failed') AND completed_at > $1
		GROUP BY owner_id, agent_id
	`, since, recentSince)
	if err != nil {
		return nil, fmt.Errorf("execution stats query failed: %w", err)
	}
	defer rows.Close()

	var stats []store.ExecutionStat
	for rows.Next() {
		var st store.ExecutionStat
		if err := rows.Scan(&st.OwnerID, &st.AgentID, &st.Executions, &st.Failures, &st.TotalMS, &st.Recent); err != nil {
			return nil, fmt.Errorf("execution stats scan failed: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// ExecutionTotals returns the lifetime settled and failed counts.
func (s *Store) ExecutionTotals(ctx context.Context) (store.ExecutionTotals, error) {
	var t store.ExecutionTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'failed')
		FROM executions
		WHERE status IN ('completed', 'failed')
	`).Scan(&t.Total, &t.Failed)
	if err != nil {
		return store.ExecutionTotals{}, fmt.Errorf("execution totals query failed: %w", err)
	}
	return t, nil
}

// ExecutionHistory returns per-minute aggregates for one organization
// inside [start, end].
func (s *Store) ExecutionHistory(ctx context.Context, ownerID uuid.UUID, start, end time.Time) ([]store.MetricsBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc('minute', completed_at) AS bucket,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COALESCE(SUM(execution_time_ms), 0)
		FROM executions
		WHERE owner_id = $1 AND status IN ('completed', 'failed')
		      AND completed_at >= $2 AND completed_at <= $3
		GROUP BY bucket
		ORDER BY bucket ASC
	`, ownerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("execution history query failed: %w", err)
	}
	defer rows.Close()

	var buckets []store.MetricsBucket
	for rows.Next() {
		var b store.MetricsBucket
		if err := rows.Scan(&b.Bucket, &b.Executions, &b.Failures, &b.TotalMS); err != nil {
			return nil, fmt.Errorf("execution history scan failed: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
