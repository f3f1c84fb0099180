// Package scheduler materializes schedules into concrete executions and
// reconciles due executions into the queue.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentplane/internal/notify"
	"agentplane/internal/store"
	"agentplane/pkg/api"
	"agentplane/pkg/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// DefaultHorizon is how far ahead occurrences are materialized.
	DefaultHorizon = 24 * time.Hour

	// DefaultBatchSize caps how many due executions one reconciliation
	// pass dispatches.
	DefaultBatchSize = 50

	// DefaultDispatchTimeout bounds how long a dispatched scheduled
	// execution is waited on before it is marked failed.
	DefaultDispatchTimeout = 60 * time.Second

	// DefaultMaxExecutionsPerDay applies when a schedule does not set its
	// own daily cap.
	DefaultMaxExecutionsPerDay = 100

	defaultFailureWindow    = 10 * time.Minute
	defaultFailureThreshold = 5
)

// Stores is the persistence surface the scheduler needs.
type Stores interface {
	store.ScheduleStore
	store.AgentStore
}

// Waiter blocks until an execution reaches a terminal state or the
// timeout elapses.
type Waiter interface {
	Wait(ctx context.Context, executionID uuid.UUID, timeout time.Duration) (*store.Execution, error)
}

// Config holds scheduler tuning knobs.
type Config struct {
	Horizon          time.Duration
	BatchSize        int
	DispatchTimeout  time.Duration
	FailureWindow    time.Duration
	FailureThreshold int
}

// Service owns schedule lifecycle and the reconciliation pass.
type Service struct {
	stores   Stores
	queue    store.Queue
	cron     CronStrategy
	waiter   Waiter
	notifier notify.Notifier
	alerter  notify.Alerter
	validate *validator.Validate
	logger   *slog.Logger
	cfg      Config
}

func NewService(stores Stores, queue store.Queue, cronStrategy CronStrategy, waiter Waiter, notifier notify.Notifier, alerter notify.Alerter, logger *slog.Logger, cfg Config) *Service {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = defaultFailureWindow
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}

	validate := validator.New()
	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return cronStrategy.Validate(fl.Field().String()) == nil
	})

	return &Service{
		stores:   stores,
		queue:    queue,
		cron:     cronStrategy,
		waiter:   waiter,
		notifier: notifier,
		alerter:  alerter,
		validate: validate,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateSchedule validates and persists a new schedule, then materializes
// its first window. Returns the schedule and how many executions were
// materialized.
func (s *Service) CreateSchedule(ctx context.Context, ownerID uuid.UUID, req api.CreateScheduleRequest) (*store.Schedule, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeValidation, "invalid schedule request", err)
	}

	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		return nil, 0, apperr.New(apperr.CodeValidation, "agent_id is not a valid UUID")
	}

	scheduleType := store.ScheduleType(req.ScheduleType)
	if err := checkTriggerExclusivity(scheduleType, req.IntervalMinutes, req.CronExpression, req.WebhookEndpoint); err != nil {
		return nil, 0, err
	}

	agent, err := s.stores.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeNotFound, "agent not found", err)
	}

	allowed, err := s.stores.HasActiveAccess(ctx, ownerID, agentID)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeInfrastructure, "access check failed", err)
	}
	if !allowed {
		return nil, 0, apperr.New(apperr.CodePermission, "organization does not have access to this agent")
	}
	if agent.Status != store.AgentStatusActive {
		return nil, 0, apperr.New(apperr.CodeValidation, "agent is stopped")
	}

	now := time.Now().UTC()
	schedule := &store.Schedule{
		ID:                  uuid.New(),
		AgentID:             agentID,
		OwnerID:             ownerID,
		Type:                scheduleType,
		IntervalMinutes:     req.IntervalMinutes,
		CronExpression:      req.CronExpression,
		WebhookEndpoint:     req.WebhookEndpoint,
		Timezone:            req.Timezone,
		Enabled:             true,
		MaxExecutionsPerDay: req.MaxExecutionsPerDay,
		RetryOnFailure:      req.RetryOnFailure,
		NotifyOnSuccess:     req.Notifications.OnSuccess,
		NotifyOnFailure:     req.Notifications.OnFailure,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}
	if schedule.MaxExecutionsPerDay == 0 {
		schedule.MaxExecutionsPerDay = DefaultMaxExecutionsPerDay
	}

	if err := s.stores.CreateSchedule(ctx, nil, schedule); err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeInfrastructure, "failed to persist schedule", err)
	}

	materialized, err := s.MaterializeWindow(ctx, schedule, now)
	if err != nil {
		s.logger.Error("initial materialization failed", "schedule_id", schedule.ID, "error", err)
	}

	s.logger.Info("schedule created",
		"schedule_id", schedule.ID,
		"agent_id", agentID,
		"type", schedule.Type,
		"materialized", materialized,
	)
	return schedule, materialized, nil
}

// UpdateSchedule applies partial updates. Disabling a schedule skips its
// pending occurrences; re-enabling materializes a fresh window.
func (s *Service) UpdateSchedule(ctx context.Context, ownerID, scheduleID uuid.UUID, req api.UpdateScheduleRequest) (*store.Schedule, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "invalid schedule update", err)
	}

	schedule, err := s.stores.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNotFound, "schedule not found", err)
	}
	if schedule.OwnerID != ownerID {
		return nil, apperr.New(apperr.CodeNotFound, "schedule not found")
	}

	wasEnabled := schedule.Enabled

	if req.IntervalMinutes != nil {
		if schedule.Type != store.ScheduleTypeInterval {
			return nil, apperr.New(apperr.CodeValidation, "interval_minutes only applies to interval schedules")
		}
		schedule.IntervalMinutes = req.IntervalMinutes
	}
	if req.CronExpression != nil {
		if schedule.Type != store.ScheduleTypeCron {
			return nil, apperr.New(apperr.CodeValidation, "cron_expression only applies to cron schedules")
		}
		schedule.CronExpression = req.CronExpression
	}
	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
	}
	if req.MaxExecutionsPerDay != nil {
		schedule.MaxExecutionsPerDay = *req.MaxExecutionsPerDay
	}
	if req.RetryOnFailure != nil {
		schedule.RetryOnFailure = *req.RetryOnFailure
	}
	if req.Notifications != nil {
		schedule.NotifyOnSuccess = req.Notifications.OnSuccess
		schedule.NotifyOnFailure = req.Notifications.OnFailure
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}
	schedule.UpdatedAt = time.Now().UTC()

	if err := s.stores.UpdateSchedule(ctx, nil, schedule); err != nil {
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "failed to update schedule", err)
	}

	switch {
	case wasEnabled && !schedule.Enabled:
		skipped, err := s.stores.SkipPendingScheduledExecutions(ctx, nil, schedule.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInfrastructure, "failed to skip pending executions", err)
		}
		s.logger.Info("schedule disabled", "schedule_id", schedule.ID, "skipped", skipped)
	case !wasEnabled && schedule.Enabled:
		materialized, err := s.MaterializeWindow(ctx, schedule, time.Now().UTC())
		if err != nil {
			s.logger.Error("re-enable materialization failed", "schedule_id", schedule.ID, "error", err)
		} else {
			s.logger.Info("schedule enabled", "schedule_id", schedule.ID, "materialized", materialized)
		}
	}

	return schedule, nil
}

// MaterializeWindow inserts the schedule's upcoming occurrences inside
// [now, now+horizon), resuming after the latest already-materialized
// occurrence so repeated calls are idempotent. The count of scheduled
// rows inside the window never exceeds max_executions_per_day.
func (s *Service) MaterializeWindow(ctx context.Context, schedule *store.Schedule, now time.Time) (int, error) {
	if !schedule.Enabled || schedule.Type == store.ScheduleTypeWebhook {
		return 0, nil
	}

	windowEnd := now.Add(s.cfg.Horizon)

	existing, err := s.stores.CountScheduledInWindow(ctx, schedule.ID, now, windowEnd)
	if err != nil {
		return 0, err
	}

	dailyCap := schedule.MaxExecutionsPerDay
	if dailyCap <= 0 {
		dailyCap = DefaultMaxExecutionsPerDay
	}
	budget := dailyCap - existing
	if budget <= 0 {
		return 0, nil
	}

	after := now
	latest, err := s.stores.LatestScheduledFor(ctx, schedule.ID)
	if err != nil {
		return 0, err
	}
	if latest != nil && latest.After(after) {
		after = *latest
	}

	var execs []store.ScheduledExecution
	for len(execs) < budget {
		next, err := s.nextOccurrence(schedule, after)
		if err != nil {
			return 0, err
		}
		if !next.Before(windowEnd) {
			break
		}
		execs = append(execs, store.ScheduledExecution{
			ID:           uuid.New(),
			ScheduleID:   schedule.ID,
			AgentID:      schedule.AgentID,
			OwnerID:      schedule.OwnerID,
			ScheduledFor: next,
			Status:       store.ScheduledStatusScheduled,
			CreatedAt:    now,
		})
		after = next
	}

	if len(execs) == 0 {
		return 0, nil
	}

	if err := s.stores.InsertScheduledExecutions(ctx, nil, execs); err != nil {
		return 0, err
	}
	return len(execs), nil
}

// RefillWindows tops up the materialization horizon of every enabled
// schedule. Runs on the controller tick.
func (s *Service) RefillWindows(ctx context.Context, now time.Time) (int, error) {
	schedules, err := s.stores.ListEnabledSchedules(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range schedules {
		n, err := s.MaterializeWindow(ctx, &schedules[i], now)
		if err != nil {
			s.logger.Error("window refill failed", "schedule_id", schedules[i].ID, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

// ProcessScheduledExecutions dispatches due scheduled executions into the
// queue and waits for their outcomes. Concurrent passes are safe: the
// scheduled->executing claim is atomic per row.
func (s *Service) ProcessScheduledExecutions(ctx context.Context, now time.Time) (api.SchedulerTickResponse, error) {
	var resp api.SchedulerTickResponse

	due, err := s.stores.ListDueScheduledExecutions(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return resp, fmt.Errorf("listing due executions: %w", err)
	}
	if len(due) == 0 {
		return resp, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range due {
		wg.Add(1)
		go func(se store.ScheduledExecution) {
			defer wg.Done()

			claimed, ok := s.dispatchOne(ctx, se)
			mu.Lock()
			defer mu.Unlock()
			if !claimed {
				return
			}
			resp.Processed++
			if ok {
				resp.Successful++
			} else {
				resp.Failed++
			}
		}(due[i])
	}
	wg.Wait()

	s.logger.Info("reconciliation pass complete",
		"processed", resp.Processed,
		"successful", resp.Successful,
		"failed", resp.Failed,
	)
	return resp, nil
}

// dispatchOne runs a single due execution end to end. The first return
// value reports whether this pass won the claim.
func (s *Service) dispatchOne(ctx context.Context, se store.ScheduledExecution) (bool, bool) {
	claimed, err := s.stores.ClaimScheduledExecution(ctx, se.ID)
	if err != nil {
		s.logger.Error("claim failed", "scheduled_execution_id", se.ID, "error", err)
		return false, false
	}
	if !claimed {
		return false, false
	}

	schedule, err := s.stores.GetScheduleByID(ctx, se.ScheduleID)
	if err != nil {
		s.finishFailed(ctx, se.ID, 0, "schedule lookup failed: "+err.Error())
		return true, false
	}

	agent, err := s.stores.GetAgentByID(ctx, se.AgentID)
	if err != nil {
		s.finishFailed(ctx, se.ID, 0, "agent lookup failed: "+err.Error())
		return true, false
	}
	if agent.Status != store.AgentStatusActive {
		s.finishFailed(ctx, se.ID, 0, "agent is stopped")
		s.notifyOutcome(ctx, schedule, se, uuid.Nil, false, "agent is stopped", 0)
		return true, false
	}

	maxRetries := 0
	if schedule.RetryOnFailure {
		maxRetries = 3
	}

	payload, err := json.Marshal(api.ExecutionPayload{
		Agent:                agentSpec(agent),
		Scheduled:            true,
		ScheduledExecutionID: &se.ID,
	})
	if err != nil {
		s.finishFailed(ctx, se.ID, 0, "payload encoding failed: "+err.Error())
		return true, false
	}

	execution := &store.Execution{
		ID:         uuid.New(),
		AgentID:    se.AgentID,
		OwnerID:    se.OwnerID,
		Status:     store.ExecutionStatusPending,
		Priority:   store.PriorityScheduled,
		Payload:    payload,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, nil, execution); err != nil {
		s.finishFailed(ctx, se.ID, 0, "enqueue failed: "+err.Error())
		return true, false
	}

	start := time.Now()
	result, err := s.waiter.Wait(ctx, execution.ID, s.cfg.DispatchTimeout)
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		s.finishFailed(ctx, se.ID, elapsed, "execution timed out")
		s.notifyOutcome(ctx, schedule, se, execution.ID, false, "execution timed out", elapsed)
		s.checkFailureSpike(ctx, se.AgentID)
		return true, false
	}

	elapsed := int64(0)
	if result.ExecutionTimeMS != nil {
		elapsed = *result.ExecutionTimeMS
	}

	if result.Status == store.ExecutionStatusCompleted {
		if err := s.stores.FinishScheduledExecution(ctx, se.ID, store.ScheduledStatusCompleted, result.Result, elapsed, nil); err != nil {
			s.logger.Error("finish failed", "scheduled_execution_id", se.ID, "error", err)
		}
		s.notifyOutcome(ctx, schedule, se, execution.ID, true, "", elapsed)
		return true, true
	}

	errMsg := "execution failed"
	if result.LastError != nil {
		errMsg = *result.LastError
	}
	s.finishFailed(ctx, se.ID, elapsed, errMsg)
	s.notifyOutcome(ctx, schedule, se, execution.ID, false, errMsg, elapsed)
	s.checkFailureSpike(ctx, se.AgentID)
	return true, false
}

func (s *Service) finishFailed(ctx context.Context, id uuid.UUID, elapsed int64, errMsg string) {
	if err := s.stores.FinishScheduledExecution(ctx, id, store.ScheduledStatusFailed, nil, elapsed, &errMsg); err != nil {
		s.logger.Error("finish failed", "scheduled_execution_id", id, "error", err)
	}
}

func (s *Service) notifyOutcome(ctx context.Context, schedule *store.Schedule, se store.ScheduledExecution, executionID uuid.UUID, success bool, errMsg string, elapsed int64) {
	if success && !schedule.NotifyOnSuccess {
		return
	}
	if !success && !schedule.NotifyOnFailure {
		return
	}

	outcome := notify.Outcome{
		ScheduleID:      schedule.ID,
		AgentID:         se.AgentID,
		OwnerID:         se.OwnerID,
		ExecutionID:     executionID,
		Success:         success,
		Error:           errMsg,
		ExecutionTimeMS: elapsed,
		CompletedAt:     time.Now().UTC(),
	}
	if err := s.notifier.ScheduleOutcome(ctx, outcome); err != nil {
		s.logger.Error("notification failed", "schedule_id", schedule.ID, "error", err)
	}
}

func (s *Service) checkFailureSpike(ctx context.Context, agentID uuid.UUID) {
	since := time.Now().Add(-s.cfg.FailureWindow)
	failures, err := s.stores.CountRecentFailures(ctx, agentID, since)
	if err != nil {
		s.logger.Error("failure count lookup failed", "agent_id", agentID, "error", err)
		return
	}
	if failures >= s.cfg.FailureThreshold {
		s.alerter.AgentFailureSpike(ctx, agentID, failures, s.cfg.FailureWindow)
	}
}

func (s *Service) nextOccurrence(schedule *store.Schedule, after time.Time) (time.Time, error) {
	switch schedule.Type {
	case store.ScheduleTypeInterval:
		if schedule.IntervalMinutes == nil {
			return time.Time{}, apperr.New(apperr.CodeValidation, "interval schedule has no interval_minutes")
		}
		return after.Add(time.Duration(*schedule.IntervalMinutes) * time.Minute), nil
	case store.ScheduleTypeCron:
		if schedule.CronExpression == nil {
			return time.Time{}, apperr.New(apperr.CodeValidation, "cron schedule has no cron_expression")
		}
		return s.cron.NextOccurrence(*schedule.CronExpression, schedule.Timezone, after)
	default:
		return time.Time{}, apperr.Newf(apperr.CodeValidation, "schedule type %s does not materialize", schedule.Type)
	}
}

func checkTriggerExclusivity(t store.ScheduleType, interval *int, cronExpr, webhookEndpoint *string) error {
	set := 0
	if interval != nil {
		set++
	}
	if cronExpr != nil {
		set++
	}
	if webhookEndpoint != nil {
		set++
	}
	if set != 1 {
		return apperr.New(apperr.CodeValidation, "exactly one of interval_minutes, cron_expression, webhook_endpoint must be set")
	}

	switch t {
	case store.ScheduleTypeInterval:
		if interval == nil {
			return apperr.New(apperr.CodeValidation, "interval schedules require interval_minutes")
		}
	case store.ScheduleTypeCron:
		if cronExpr == nil {
			return apperr.New(apperr.CodeValidation, "cron schedules require cron_expression")
		}
	case store.ScheduleTypeWebhook:
		if webhookEndpoint == nil {
			return apperr.New(apperr.CodeValidation, "webhook schedules require webhook_endpoint")
		}
	}
	return nil
}

func agentSpec(agent *store.Agent) api.AgentSpec {
	return api.AgentSpec{
		ID:             agent.ID,
		OwnerID:        agent.OwnerID,
		Name:           agent.Name,
		Type:           string(agent.Type),
		Image:          agent.Image,
		Command:        agent.Command,
		DefaultTimeout: agent.DefaultTimeout,
		MemoryLimitMB:  agent.MemoryLimitMB,
	}
}
