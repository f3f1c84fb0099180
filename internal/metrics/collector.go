// Package metrics publishes execution outcomes as Prometheus series and
// derives dashboard rollups from the execution store. Prometheus metrics
// are registered on an injected registerer so tests and embedders control
// the registry.
package metrics

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome classifies one recorded execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Event is one immutable execution outcome record.
type Event struct {
	RuntimeID       uuid.UUID
	AgentID         uuid.UUID
	Outcome         Outcome
	ExecutionTimeMS int64
	MemoryUsedMB    int
}

// Collector is the per-process metrics sink. All methods are safe for
// concurrent use.
type Collector struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	memoryUsed        *prometheus.HistogramVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentplane_executions_total",
			Help: "Total agent executions by organization and outcome.",
		}, []string{"organization", "outcome"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentplane_execution_duration_seconds",
			Help:    "Agent execution wall-clock duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"organization"}),
		memoryUsed: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentplane_execution_memory_mb",
			Help:    "Peak memory observed per execution in MB.",
			Buckets: prometheus.ExponentialBuckets(16, 2, 9),
		}, []string{"organization"}),
	}
}

// RecordExecution publishes one outcome to the Prometheus series.
func (c *Collector) RecordExecution(e Event) {
	org := e.RuntimeID.String()
	c.executionsTotal.WithLabelValues(org, string(e.Outcome)).Inc()
	c.executionDuration.WithLabelValues(org).Observe(float64(e.ExecutionTimeMS) / 1000)
	if e.MemoryUsedMB > 0 {
		c.memoryUsed.WithLabelValues(org).Observe(float64(e.MemoryUsedMB))
	}
}
