package tenant

import (
	"sync"

	"github.com/google/uuid"
)

// ContainerStatus is the lifecycle state of a runtime container.
type ContainerStatus string

const (
	ContainerIdle    ContainerStatus = "idle"
	ContainerRunning ContainerStatus = "running"
	ContainerError   ContainerStatus = "error"
	ContainerStopped ContainerStatus = "stopped"
)

const (
	healthMax      = 100.0
	healthRecovery = 1.0
	healthDecay    = 10.0
)

// Container tracks the execution state and health of one agent within an
// organization runtime. Health starts at 100, recovers slowly on success
// and decays fast on failure.
type Container struct {
	ID      uuid.UUID
	AgentID uuid.UUID

	mu             sync.Mutex
	status         ContainerStatus
	executionCount int64
	errorCount     int64
	healthScore    float64
}

func newContainer(agentID uuid.UUID) *Container {
	return &Container{
		ID:          uuid.New(),
		AgentID:     agentID,
		status:      ContainerIdle,
		healthScore: healthMax,
	}
}

func (c *Container) setStatus(s ContainerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// RecordSuccess bumps the health score, bounded at 100.
func (c *Container) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.executionCount++
	c.healthScore += healthRecovery
	if c.healthScore > healthMax {
		c.healthScore = healthMax
	}
	c.status = ContainerIdle
}

// RecordFailure decays the health score, bounded at 0.
func (c *Container) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.executionCount++
	c.errorCount++
	c.healthScore -= healthDecay
	if c.healthScore < 0 {
		c.healthScore = 0
	}
	c.status = ContainerError
}

func (c *Container) HealthScore() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthScore
}

// Snapshot is a point-in-time copy of a container's counters.
type Snapshot struct {
	ID             uuid.UUID
	AgentID        uuid.UUID
	Status         ContainerStatus
	ExecutionCount int64
	ErrorCount     int64
	HealthScore    float64
}

func (c *Container) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:             c.ID,
		AgentID:        c.AgentID,
		Status:         c.status,
		ExecutionCount: c.executionCount,
		ErrorCount:     c.errorCount,
		HealthScore:    c.healthScore,
	}
}
