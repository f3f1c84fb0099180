// Package worker contains the pull-loop that claims executions from the
// queue and runs them inside tenant runtimes.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"agentplane/internal/metrics"
	"agentplane/internal/runtime"
	"agentplane/internal/store"
	"agentplane/internal/tenant"
	"agentplane/pkg/api"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Config holds configuration for the worker agent.
type Config struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // maximum backoff when the queue is empty
	HeartbeatInterval time.Duration // interval between lease extensions
	LeaseExtension    time.Duration // how far each heartbeat pushes the claim lease
	ReleaseBackoff    time.Duration // requeue delay after an infrastructure rejection
}

// Agent runs the claim loop. Each claimed execution is dispatched to a
// goroutine bounded by the concurrency semaphore.
type Agent struct {
	queue     store.Queue
	orgs      store.OrganizationStore
	registry  *tenant.Registry
	collector *metrics.Collector
	hub       *CompletionHub
	logger    *slog.Logger
	config    Config
	ownerIDs  []uuid.UUID
	done      chan struct{}
}

// New creates a worker agent. ownerIDs is optional; when set the worker
// only claims executions for those organizations.
func New(queue store.Queue, orgs store.OrganizationStore, registry *tenant.Registry, collector *metrics.Collector, hub *CompletionHub, logger *slog.Logger, config Config, ownerIDs []uuid.UUID) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.LeaseExtension <= 0 {
		config.LeaseExtension = 5 * time.Minute
	}
	if config.ReleaseBackoff <= 0 {
		config.ReleaseBackoff = 30 * time.Second
	}

	return &Agent{
		queue:     queue,
		orgs:      orgs,
		registry:  registry,
		collector: collector,
		hub:       hub,
		logger:    logger,
		config:    config,
		ownerIDs:  ownerIDs,
		done:      make(chan struct{}),
	}
}

// Run starts the claim loop. It blocks until the context is cancelled,
// then stops claiming and lets in-flight executions finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("worker starting", "worker_id", a.config.ID, "concurrency", a.config.Concurrency)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Signals an immediate re-poll when a slot frees up.
	pollNow := make(chan struct{}, 1)
	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}
	triggerPoll()

	currentBackoff := a.config.PollInterval

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("worker draining, waiting for in-flight executions")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			items, err := a.queue.ClaimBatch(ctx, a.ownerIDs, availableSlots)
			if err != nil {
				a.logger.Error("claim failed", "error", err)
				continue
			}

			if len(items) == 0 {
				// Empty queue: exponential backoff, capped.
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.logger.Debug("claimed executions", "count", len(items))

			for _, item := range items {
				sem <- struct{}{}
				wg.Add(1)
				go func(item store.ClaimedItem) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.processItem(ctx, item)
				}(item)
			}

			if len(items) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel closed when the agent has fully drained.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processItem runs one claimed execution end to end and settles the queue
// item. Settlement uses a background context so a drain-time cancellation
// cannot lose the outcome.
func (a *Agent) processItem(ctx context.Context, item store.ClaimedItem) {
	var payload api.ExecutionPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		a.logger.Error("invalid payload", "execution_id", item.ExecutionID, "error", err)
		a.settleFailure(item, "invalid payload: "+err.Error(), apperr.CodeExecutionRuntime, 0, 0)
		return
	}

	traceCtx := ctx
	if payload.Trace != nil {
		traceCtx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(payload.Trace))
	}

	tracer := otel.Tracer("worker-agent")
	spanCtx, span := tracer.Start(traceCtx, "process_execution",
		trace.WithAttributes(
			attribute.String("execution.id", item.ExecutionID.String()),
			attribute.String("agent.id", item.AgentID.String()),
			attribute.String("organization.id", item.OwnerID.String()),
			attribute.String("agent.type", payload.Agent.Type),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	// The execution outlives a worker shutdown (graceful drain); the
	// isolator enforces the agent timeout itself.
	execCtx := context.WithoutCancel(spanCtx)

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go a.runHeartbeat(heartbeatCtx, item.ExecutionID)

	org, err := a.orgs.GetOrganizationByID(execCtx, item.OwnerID)
	if err != nil {
		span.RecordError(err)
		a.settleError(item, nil, apperr.Wrap(apperr.CodeInfrastructure, "organization lookup failed", err))
		return
	}

	result, err := a.registry.ExecuteAgent(execCtx, org, payload.Agent, payload.Input)
	if err != nil {
		span.RecordError(err)
		a.settleError(item, result, err)
		return
	}

	elapsed := result.ExecutionTime.Milliseconds()
	span.SetAttributes(attribute.Int64("execution.duration_ms", elapsed))

	if err := a.queue.Complete(context.Background(), nil, item.ExecutionID, result.Output, elapsed, result.MemoryUsedMB); err != nil {
		a.logger.Error("complete failed", "execution_id", item.ExecutionID, "error", err)
		return
	}

	a.collector.RecordExecution(metrics.Event{
		RuntimeID:       item.OwnerID,
		AgentID:         item.AgentID,
		Outcome:         metrics.OutcomeSuccess,
		ExecutionTimeMS: elapsed,
		MemoryUsedMB:    result.MemoryUsedMB,
	})
	a.publishOutcome(item.ExecutionID)
	a.logger.Info("execution completed", "execution_id", item.ExecutionID, "duration_ms", elapsed)
}

// settleError routes a failed run into the retry state machine according
// to its error class.
func (a *Agent) settleError(item store.ClaimedItem, result *runtime.Result, err error) {
	var elapsed int64
	var memMB int
	if result != nil {
		elapsed = result.ExecutionTime.Milliseconds()
		memMB = result.MemoryUsedMB
	}

	code := apperr.CodeOf(err)
	// A resource rejection before the isolator ran (pool exhaustion, dead
	// runtime) is transient; a memory-limit kill mid-run is the agent's own
	// fault and burns a retry like any other failure.
	if code == apperr.CodeResourceExhausted && result != nil {
		a.settleFailure(item, err.Error(), code, elapsed, memMB)
		return
	}
	switch code {
	case apperr.CodeResourceExhausted, apperr.CodeInfrastructure:
		// The agent never ran: back to pending without touching the retry
		// budget.
		if relErr := a.queue.Release(context.Background(), nil, item.ExecutionID, a.config.ReleaseBackoff); relErr != nil {
			a.logger.Error("release failed", "execution_id", item.ExecutionID, "error", relErr)
		}
		a.logger.Warn("execution deferred", "execution_id", item.ExecutionID, "reason", err.Error())
	case apperr.CodeExecutionTimeout:
		a.settleFailure(item, err.Error(), code, elapsed, memMB)
	default:
		a.settleFailure(item, err.Error(), apperr.CodeExecutionRuntime, elapsed, memMB)
	}
}

func (a *Agent) settleFailure(item store.ClaimedItem, errMsg string, code apperr.Code, elapsed int64, memMB int) {
	terminal, err := a.queue.Fail(context.Background(), nil, item.ExecutionID, errMsg)
	if err != nil {
		a.logger.Error("fail transition failed", "execution_id", item.ExecutionID, "error", err)
		return
	}

	outcome := metrics.OutcomeError
	if code == apperr.CodeExecutionTimeout {
		outcome = metrics.OutcomeTimeout
	}
	a.collector.RecordExecution(metrics.Event{
		RuntimeID:       item.OwnerID,
		AgentID:         item.AgentID,
		Outcome:         outcome,
		ExecutionTimeMS: elapsed,
		MemoryUsedMB:    memMB,
	})

	if terminal {
		a.publishOutcome(item.ExecutionID)
		a.logger.Warn("execution failed terminally", "execution_id", item.ExecutionID, "error", errMsg)
	} else {
		a.logger.Info("execution requeued for retry", "execution_id", item.ExecutionID, "error", errMsg)
	}
}

// publishOutcome loads the settled execution and hands it to waiters.
func (a *Agent) publishOutcome(executionID uuid.UUID) {
	e, err := a.queue.GetExecutionByID(context.Background(), executionID)
	if err != nil {
		a.logger.Error("outcome lookup failed", "execution_id", executionID, "error", err)
		return
	}
	a.hub.Publish(e)
}

// runHeartbeat extends the claim lease while the execution runs so the
// reaper does not hand it to another worker.
func (a *Agent) runHeartbeat(ctx context.Context, executionID uuid.UUID) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.LeaseExtension)
			if err := a.queue.SetVisibleAfter(ctx, nil, executionID, visibleAfter); err != nil {
				a.logger.Warn("heartbeat failed", "execution_id", executionID, "error", err)
			}
		}
	}
}
