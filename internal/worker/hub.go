package worker

import (
	"context"
	"sync"
	"time"

	"agentplane/internal/store"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
)

// DefaultPollInterval is the store-poll fallback cadence for waiters.
const DefaultPollInterval = 2 * time.Second

// ExecutionGetter reads one execution's current state.
type ExecutionGetter interface {
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error)
}

// CompletionHub turns the queue's asynchronous dispatch into a bounded
// wait. Workers publish terminal executions directly; a store poll backs
// up the channel path so waiters in other processes still complete.
type CompletionHub struct {
	getter       ExecutionGetter
	pollInterval time.Duration

	mu      sync.Mutex
	waiters map[uuid.UUID][]chan *store.Execution
}

func NewCompletionHub(getter ExecutionGetter, pollInterval time.Duration) *CompletionHub {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &CompletionHub{
		getter:       getter,
		pollInterval: pollInterval,
		waiters:      make(map[uuid.UUID][]chan *store.Execution),
	}
}

// Publish hands a terminal execution to every registered waiter.
// Non-terminal executions are ignored: a retried failure is not an
// outcome.
func (h *CompletionHub) Publish(e *store.Execution) {
	if e == nil || !e.Status.Terminal() {
		return
	}

	h.mu.Lock()
	channels := h.waiters[e.ID]
	delete(h.waiters, e.ID)
	h.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- e:
		default:
		}
	}
}

// Wait blocks until the execution reaches a terminal state or the timeout
// elapses. The returned error carries the timeout code when the wait
// expires.
func (h *CompletionHub) Wait(ctx context.Context, executionID uuid.UUID, timeout time.Duration) (*store.Execution, error) {
	ch := make(chan *store.Execution, 1)

	h.mu.Lock()
	h.waiters[executionID] = append(h.waiters[executionID], ch)
	h.mu.Unlock()
	defer h.unregister(executionID, ch)

	// The execution may already be terminal.
	if e, err := h.getter.GetExecutionByID(ctx, executionID); err == nil && e.Status.Terminal() {
		return e, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.CodeExecutionTimeout, "execution timed out", ctx.Err())
		case <-timer.C:
			return nil, apperr.New(apperr.CodeExecutionTimeout, "execution timed out")
		case e := <-ch:
			return e, nil
		case <-ticker.C:
			e, err := h.getter.GetExecutionByID(ctx, executionID)
			if err != nil {
				continue
			}
			if e.Status.Terminal() {
				return e, nil
			}
		}
	}
}

func (h *CompletionHub) unregister(executionID uuid.UUID, ch chan *store.Execution) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channels := h.waiters[executionID]
	for i, c := range channels {
		if c == ch {
			h.waiters[executionID] = append(channels[:i], channels[i+1:]...)
			break
		}
	}
	if len(h.waiters[executionID]) == 0 {
		delete(h.waiters, executionID)
	}
}
