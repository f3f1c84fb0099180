package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutionStat is one per-organization, per-agent aggregate over settled
// executions inside a trailing window.
type ExecutionStat struct {
	OwnerID    uuid.UUID
	AgentID    uuid.UUID
	Executions int64
	Failures   int64
	TotalMS    int64
	Recent     int64 // settled inside the trailing throughput window
}

// ExecutionTotals is the lifetime settled-execution tally.
type ExecutionTotals struct {
	Total  int64
	Failed int64
}

// MetricsBucket is one per-minute aggregate of an organization's settled
// executions, used by the metrics history endpoint.
type MetricsBucket struct {
	Bucket     time.Time
	Executions int64
	Failures   int64
	TotalMS    int64
}

// StatReader serves the executions-table aggregates behind the metrics
// read API. Any process with database access can answer dashboard
// queries through it, regardless of which worker ran the executions.
type StatReader interface {
	// ExecutionStats aggregates settled executions per organization and
	// agent since the window start. Recent counts those settled after
	// recentSince.
	ExecutionStats(ctx context.Context, since, recentSince time.Time) ([]ExecutionStat, error)

	// ExecutionTotals returns the lifetime settled and failed counts.
	ExecutionTotals(ctx context.Context) (ExecutionTotals, error)

	// ExecutionHistory returns per-minute aggregates for one organization
	// inside [start, end].
	ExecutionHistory(ctx context.Context, ownerID uuid.UUID, start, end time.Time) ([]MetricsBucket, error)
}
