package metrics

import (
	"context"
	"sort"
	"time"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

const (
	rateWindow       = time.Hour
	throughputWindow = time.Minute

	// Dashboard thresholds for flagging problematic agents.
	problemErrorRatePct   = 20.0
	problemAvgExecutionMS = 5000.0
)

// RuntimeMetrics is one computed snapshot for a runtime.
type RuntimeMetrics struct {
	RuntimeID           uuid.UUID
	ExecutionsPerMinute float64
	SuccessRate         float64
	ErrorRate           float64
	AvgExecutionMS      float64
	HealthScore         float64
	CapturedAt          time.Time
}

// AgentStats is the per-agent trailing-window aggregate used by the
// dashboard rankings.
type AgentStats struct {
	AgentID        uuid.UUID
	Executions     int64
	ErrorRate      float64
	AvgExecutionMS float64
}

// OrgStats is the per-organization dashboard breakdown.
type OrgStats struct {
	RuntimeID      uuid.UUID
	Executions     int64
	ErrorRate      float64
	AvgExecutionMS float64
	HealthScore    float64
}

// Dashboard is the cross-tenant rollup.
type Dashboard struct {
	TotalExecutions  int64
	ActiveRuntimes   int
	OverallErrorRate float64
	Organizations    []OrgStats
	TopAgents        []AgentStats
	ProblemAgents    []AgentStats
	GeneratedAt      time.Time
}

// StoreSource computes the metrics read API from the executions table, so
// the controller can serve dashboards for work recorded by any worker
// process.
type StoreSource struct {
	stats store.StatReader
	now   func() time.Time
}

func NewStoreSource(stats store.StatReader) *StoreSource {
	return &StoreSource{stats: stats, now: time.Now}
}

// RuntimeMetrics derives the trailing-window statistics for one runtime.
func (s *StoreSource) RuntimeMetrics(ctx context.Context, runtimeID uuid.UUID) (RuntimeMetrics, error) {
	now := s.now()
	rows, err := s.stats.ExecutionStats(ctx, now.Add(-rateWindow), now.Add(-throughputWindow))
	if err != nil {
		return RuntimeMetrics{}, err
	}

	var count, errs, recent, totalMS int64
	for _, row := range rows {
		if row.OwnerID != runtimeID {
			continue
		}
		count += row.Executions
		errs += row.Failures
		recent += row.Recent
		totalMS += row.TotalMS
	}

	m := RuntimeMetrics{
		RuntimeID:           runtimeID,
		ExecutionsPerMinute: float64(recent),
		CapturedAt:          now,
	}
	if count > 0 {
		m.SuccessRate = float64(count-errs) / float64(count) * 100
		m.ErrorRate = float64(errs) / float64(count) * 100
		m.AvgExecutionMS = float64(totalMS) / float64(count)
	} else {
		m.SuccessRate = 100
	}
	m.HealthScore = HealthScore(m.SuccessRate, m.AvgExecutionMS, m.ErrorRate)
	return m, nil
}

// Dashboard computes the cross-tenant rollup from the trailing window.
// TotalExecutions and OverallErrorRate cover the table's lifetime.
func (s *StoreSource) Dashboard(ctx context.Context, activeRuntimes int) (Dashboard, error) {
	now := s.now()

	totals, err := s.stats.ExecutionTotals(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	rows, err := s.stats.ExecutionStats(ctx, now.Add(-rateWindow), now.Add(-throughputWindow))
	if err != nil {
		return Dashboard{}, err
	}

	type agg struct {
		count   int64
		errs    int64
		totalMS int64
	}
	orgs := make(map[uuid.UUID]*agg)
	agents := make(map[uuid.UUID]*agg)
	for _, row := range rows {
		o := orgs[row.OwnerID]
		if o == nil {
			o = &agg{}
			orgs[row.OwnerID] = o
		}
		a := agents[row.AgentID]
		if a == nil {
			a = &agg{}
			agents[row.AgentID] = a
		}
		for _, x := range []*agg{o, a} {
			x.count += row.Executions
			x.errs += row.Failures
			x.totalMS += row.TotalMS
		}
	}

	d := Dashboard{
		TotalExecutions: totals.Total,
		ActiveRuntimes:  activeRuntimes,
		GeneratedAt:     now,
	}
	if totals.Total > 0 {
		d.OverallErrorRate = float64(totals.Failed) / float64(totals.Total) * 100
	}

	for id, o := range orgs {
		stats := OrgStats{
			RuntimeID:      id,
			Executions:     o.count,
			ErrorRate:      float64(o.errs) / float64(o.count) * 100,
			AvgExecutionMS: float64(o.totalMS) / float64(o.count),
		}
		stats.HealthScore = HealthScore(100-stats.ErrorRate, stats.AvgExecutionMS, stats.ErrorRate)
		d.Organizations = append(d.Organizations, stats)
	}
	sort.Slice(d.Organizations, func(i, j int) bool {
		return d.Organizations[i].Executions > d.Organizations[j].Executions
	})

	var ranked []AgentStats
	for id, a := range agents {
		ranked = append(ranked, AgentStats{
			AgentID:        id,
			Executions:     a.count,
			ErrorRate:      float64(a.errs) / float64(a.count) * 100,
			AvgExecutionMS: float64(a.totalMS) / float64(a.count),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Executions > ranked[j].Executions
	})
	for _, a := range ranked {
		if a.ErrorRate > problemErrorRatePct || a.AvgExecutionMS > problemAvgExecutionMS {
			d.ProblemAgents = append(d.ProblemAgents, a)
		} else if len(d.TopAgents) < 5 {
			d.TopAgents = append(d.TopAgents, a)
		}
	}

	return d, nil
}

// History returns per-minute snapshots for a runtime inside [start, end].
func (s *StoreSource) History(ctx context.Context, runtimeID uuid.UUID, start, end time.Time) ([]RuntimeMetrics, error) {
	buckets, err := s.stats.ExecutionHistory(ctx, runtimeID, start, end)
	if err != nil {
		return nil, err
	}

	out := make([]RuntimeMetrics, 0, len(buckets))
	for _, b := range buckets {
		m := RuntimeMetrics{
			RuntimeID:           runtimeID,
			ExecutionsPerMinute: float64(b.Executions),
			CapturedAt:          b.Bucket,
		}
		if b.Executions > 0 {
			m.SuccessRate = float64(b.Executions-b.Failures) / float64(b.Executions) * 100
			m.ErrorRate = float64(b.Failures) / float64(b.Executions) * 100
			m.AvgExecutionMS = float64(b.TotalMS) / float64(b.Executions)
		} else {
			m.SuccessRate = 100
		}
		m.HealthScore = HealthScore(m.SuccessRate, m.AvgExecutionMS, m.ErrorRate)
		out = append(out, m)
	}
	return out, nil
}

// HealthScore combines success rate, average execution time and error
// rate into a single [0,100] score. Success rate carries half the weight;
// the time component bottoms out once the average crosses 10 seconds.
func HealthScore(successRate, avgExecutionMS, errorRate float64) float64 {
	timeComponent := 100 - avgExecutionMS/100
	if timeComponent < 0 {
		timeComponent = 0
	}
	score := 0.5*successRate + 0.3*timeComponent + 0.2*(100-errorRate)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
