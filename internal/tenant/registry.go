package tenant

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"agentplane/internal/runtime"
	"agentplane/internal/store"
	"agentplane/pkg/api"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
)

const (
	// DefaultExecutionMemoryMB applies when an agent does not declare its
	// own memory limit.
	DefaultExecutionMemoryMB = 128

	// DefaultExecutionTimeout applies when an agent does not declare its
	// own timeout.
	DefaultExecutionTimeout = 30 * time.Second
)

// RuntimeStatus is the lifecycle state of a per-organization runtime.
type RuntimeStatus string

const (
	RuntimeActive   RuntimeStatus = "active"
	RuntimePaused   RuntimeStatus = "paused"
	RuntimeShutdown RuntimeStatus = "shutdown"
)

// OrgRuntime aggregates the containers and memory pool of one tenant. It
// is the hard isolation boundary: no container or pool ever crosses it.
type OrgRuntime struct {
	OrganizationID uuid.UUID
	Pool           *MemoryPool

	mu         sync.Mutex
	status     RuntimeStatus
	containers map[uuid.UUID]*Container
}

// Status returns the runtime's lifecycle state.
func (rt *OrgRuntime) Status() RuntimeStatus {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.status
}

// SetStatus transitions the runtime. Shutdown is terminal.
func (rt *OrgRuntime) SetStatus(s RuntimeStatus) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.status == RuntimeShutdown {
		return
	}
	rt.status = s
}

// container returns the agent's container, creating it on first use.
func (rt *OrgRuntime) container(agentID uuid.UUID) *Container {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	c, ok := rt.containers[agentID]
	if !ok {
		c = newContainer(agentID)
		rt.containers[agentID] = c
	}
	return c
}

// HealthScore is the arithmetic mean of all container health scores. A
// runtime with no containers yet reports full health.
func (rt *OrgRuntime) HealthScore() float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if len(rt.containers) == 0 {
		return healthMax
	}
	var sum float64
	for _, c := range rt.containers {
		sum += c.HealthScore()
	}
	return sum / float64(len(rt.containers))
}

// Containers returns snapshots of every container in the runtime.
func (rt *OrgRuntime) Containers() []Snapshot {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(rt.containers))
	for _, c := range rt.containers {
		snapshots = append(snapshots, c.Snapshot())
	}
	return snapshots
}

// Registry owns the per-organization runtimes, created lazily on first
// access.
type Registry struct {
	selector *runtime.Selector
	logger   *slog.Logger

	// WorkDir is the base working directory handed to subprocess
	// isolators. Empty means the worker's own working directory.
	WorkDir string

	mu       sync.Mutex
	runtimes map[uuid.UUID]*OrgRuntime
}

func NewRegistry(selector *runtime.Selector, logger *slog.Logger) *Registry {
	return &Registry{
		selector: selector,
		logger:   logger,
		runtimes: make(map[uuid.UUID]*OrgRuntime),
	}
}

// Runtime returns the organization's runtime, creating it with a default
// memory pool sized by subscription tier on first access.
func (r *Registry) Runtime(org *store.Organization) *OrgRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.runtimes[org.ID]
	if !ok {
		rt = &OrgRuntime{
			OrganizationID: org.ID,
			Pool:           NewMemoryPool("default", org.Tier.PoolSizeMB()),
			status:         RuntimeActive,
			containers:     make(map[uuid.UUID]*Container),
		}
		r.runtimes[org.ID] = rt
		r.logger.Info("organization runtime created",
			"organization_id", org.ID,
			"tier", org.Tier,
			"pool_mb", org.Tier.PoolSizeMB(),
		)
	}
	return rt
}

// ActiveRuntimes returns how many runtimes are currently active.
func (r *Registry) ActiveRuntimes() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rt := range r.runtimes {
		if rt.Status() == RuntimeActive {
			n++
		}
	}
	return n
}

// Runtimes returns every registered runtime.
func (r *Registry) Runtimes() []*OrgRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*OrgRuntime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, rt)
	}
	return out
}

// ExecuteAgent runs one agent execution inside the organization's
// runtime: allocate memory, pick the isolator for the agent type, run,
// release. The allocation is always released, success or failure.
func (r *Registry) ExecuteAgent(ctx context.Context, org *store.Organization, spec api.AgentSpec, input json.RawMessage) (*runtime.Result, error) {
	rt := r.Runtime(org)
	if rt.Status() != RuntimeActive {
		return nil, apperr.Newf(apperr.CodeInfrastructure, "organization runtime is %s", rt.Status())
	}

	memMB := spec.MemoryLimitMB
	if memMB <= 0 {
		memMB = DefaultExecutionMemoryMB
	}
	if err := rt.Pool.Allocate(memMB); err != nil {
		return nil, err
	}
	defer rt.Pool.Release(memMB)

	timeout := DefaultExecutionTimeout
	if spec.DefaultTimeout > 0 {
		timeout = time.Duration(spec.DefaultTimeout) * time.Second
	}

	container := rt.container(spec.ID)
	container.setStatus(ContainerRunning)

	isolator := r.selector.ForType(store.AgentType(spec.Type))
	result, err := isolator.Run(ctx, runtime.Spec{
		Image:         spec.Image,
		Command:       spec.Command,
		Input:         input,
		Timeout:       timeout,
		MemoryLimitMB: memMB,
		WorkDir:       r.WorkDir,
	})
	if err != nil {
		container.RecordFailure()
		return result, err
	}

	container.RecordSuccess()
	return result, nil
}
