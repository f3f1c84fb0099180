// Package tenant isolates execution resources per organization. Each
// organization gets its own runtime with containers and memory pools that
// are never shared with another tenant.
package tenant

import (
	"sync"

	"agentplane/pkg/apperr"
)

// MemoryPool tracks a bounded memory budget. Allocations above the
// ceiling are rejected before execution starts.
type MemoryPool struct {
	id    string
	maxMB int

	mu     sync.Mutex
	usedMB int
}

func NewMemoryPool(id string, maxMB int) *MemoryPool {
	return &MemoryPool{id: id, maxMB: maxMB}
}

// Allocate reserves mb from the pool. Fails with a resource-exhausted
// error when the budget cannot accommodate the request.
func (p *MemoryPool) Allocate(mb int) error {
	if mb <= 0 {
		return apperr.New(apperr.CodeValidation, "allocation must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.usedMB+mb > p.maxMB {
		return apperr.Newf(apperr.CodeResourceExhausted,
			"memory pool %s exhausted: %dMB requested, %dMB of %dMB in use",
			p.id, mb, p.usedMB, p.maxMB)
	}
	p.usedMB += mb
	return nil
}

// Release returns mb to the pool. Usage never goes below zero.
func (p *MemoryPool) Release(mb int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.usedMB -= mb
	if p.usedMB < 0 {
		p.usedMB = 0
	}
}

// Usage returns the current and maximum budget in MB.
func (p *MemoryPool) Usage() (used, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedMB, p.maxMB
}
