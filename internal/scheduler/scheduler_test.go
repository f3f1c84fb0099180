package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"agentplane/internal/notify"
	"agentplane/internal/store"
	"agentplane/pkg/api"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
)

type mockStores struct {
	mu sync.Mutex

	schedules map[uuid.UUID]*store.Schedule
	agents    map[uuid.UUID]*store.Agent
	access    bool

	inserted      []store.ScheduledExecution
	countInWindow int
	latest        *time.Time
	due           []store.ScheduledExecution
	claimDenied   map[uuid.UUID]bool
	finished      map[uuid.UUID]store.ScheduledExecutionStatus
	finishedErrs  map[uuid.UUID]string
	skipped       int64
	recentFails   int
}

func newMockStores() *mockStores {
	return &mockStores{
		schedules:    make(map[uuid.UUID]*store.Schedule),
		agents:       make(map[uuid.UUID]*store.Agent),
		access:       true,
		claimDenied:  make(map[uuid.UUID]bool),
		finished:     make(map[uuid.UUID]store.ScheduledExecutionStatus),
		finishedErrs: make(map[uuid.UUID]string),
	}
}

func (m *mockStores) CreateSchedule(_ context.Context, _ store.DBTransaction, s *store.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *mockStores) GetScheduleByID(_ context.Context, id uuid.UUID) (*store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "no such schedule")
	}
	return s, nil
}

func (m *mockStores) UpdateSchedule(_ context.Context, _ store.DBTransaction, s *store.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *mockStores) InsertScheduledExecutions(_ context.Context, _ store.DBTransaction, execs []store.ScheduledExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, execs...)
	return nil
}

func (m *mockStores) ListEnabledSchedules(context.Context) ([]store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Schedule
	for _, s := range m.schedules {
		if s.Enabled && s.Type != store.ScheduleTypeWebhook {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockStores) CountScheduledInWindow(context.Context, uuid.UUID, time.Time, time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countInWindow + len(m.inserted), nil
}

func (m *mockStores) LatestScheduledFor(context.Context, uuid.UUID) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inserted) > 0 {
		latest := m.inserted[len(m.inserted)-1].ScheduledFor
		return &latest, nil
	}
	return m.latest, nil
}

func (m *mockStores) SkipPendingScheduledExecutions(context.Context, store.DBTransaction, uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
	return 2, nil
}

func (m *mockStores) ListDueScheduledExecutions(context.Context, time.Time, int) ([]store.ScheduledExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.due, nil
}

func (m *mockStores) ClaimScheduledExecution(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.claimDenied[id], nil
}

func (m *mockStores) FinishScheduledExecution(_ context.Context, id uuid.UUID, status store.ScheduledExecutionStatus, _ json.RawMessage, _ int64, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[id] = status
	if errMsg != nil {
		m.finishedErrs[id] = *errMsg
	}
	return nil
}

func (m *mockStores) CountRecentFailures(context.Context, uuid.UUID, time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentFails, nil
}

func (m *mockStores) CreateAgent(_ context.Context, _ store.DBTransaction, a *store.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
	return nil
}

func (m *mockStores) GetAgentByID(_ context.Context, id uuid.UUID) (*store.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "no such agent")
	}
	return a, nil
}

func (m *mockStores) SetAgentStatus(context.Context, store.DBTransaction, uuid.UUID, uuid.UUID, store.AgentStatus) error {
	return nil
}

func (m *mockStores) HasActiveAccess(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return m.access, nil
}

type mockQueue struct {
	mu       sync.Mutex
	enqueued []*store.Execution
}

func (q *mockQueue) Enqueue(_ context.Context, _ store.DBTransaction, e *store.Execution) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, e)
	return nil
}

func (q *mockQueue) ClaimBatch(context.Context, []uuid.UUID, int) ([]store.ClaimedItem, error) {
	return nil, nil
}
func (q *mockQueue) Complete(context.Context, store.DBTransaction, uuid.UUID, json.RawMessage, int64, int) error {
	return nil
}
func (q *mockQueue) Fail(context.Context, store.DBTransaction, uuid.UUID, string) (bool, error) {
	return false, nil
}
func (q *mockQueue) Release(context.Context, store.DBTransaction, uuid.UUID, time.Duration) error {
	return nil
}
func (q *mockQueue) Cancel(context.Context, store.DBTransaction, uuid.UUID) error { return nil }
func (q *mockQueue) CancelPendingForAgent(context.Context, store.DBTransaction, uuid.UUID) (int64, error) {
	return 0, nil
}
func (q *mockQueue) SetVisibleAfter(context.Context, store.DBTransaction, uuid.UUID, time.Time) error {
	return nil
}
func (q *mockQueue) RequeueExpired(context.Context, time.Time) (int64, error) { return 0, nil }
func (q *mockQueue) GetExecutionByID(context.Context, uuid.UUID) (*store.Execution, error) {
	return nil, nil
}
func (q *mockQueue) Count(context.Context) (int64, error) { return 0, nil }

type mockWaiter struct {
	result  *store.Execution
	timeout bool
}

func (w *mockWaiter) Wait(_ context.Context, id uuid.UUID, _ time.Duration) (*store.Execution, error) {
	if w.timeout {
		return nil, apperr.New(apperr.CodeExecutionTimeout, "execution timed out")
	}
	result := *w.result
	result.ID = id
	return &result, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	outcomes []notify.Outcome
}

func (n *mockNotifier) ScheduleOutcome(_ context.Context, o notify.Outcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, o)
	return nil
}

type mockAlerter struct {
	mu     sync.Mutex
	spikes int
}

func (a *mockAlerter) AgentFailureSpike(context.Context, uuid.UUID, int, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spikes++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(stores *mockStores, queue *mockQueue, waiter *mockWaiter, notifier *mockNotifier, alerter *mockAlerter) *Service {
	return NewService(stores, queue, NewCronStrategy(), waiter, notifier, alerter, testLogger(), Config{})
}

func activeAgent(stores *mockStores, ownerID uuid.UUID) *store.Agent {
	agent := &store.Agent{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Name:    "report-builder",
		Type:    store.AgentTypeSimple,
		Image:   "agents/report-builder:1",
		Status:  store.AgentStatusActive,
	}
	stores.agents[agent.ID] = agent
	return agent
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestCreateSchedule_IntervalMaterializesWindow(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	schedule, materialized, err := svc.CreateSchedule(context.Background(), ownerID, api.CreateScheduleRequest{
		AgentID:         agent.ID.String(),
		ScheduleType:    "interval",
		IntervalMinutes: intPtr(60),
	})
	if err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}
	if !schedule.Enabled {
		t.Error("expected schedule enabled by default")
	}
	if schedule.MaxExecutionsPerDay != DefaultMaxExecutionsPerDay {
		t.Errorf("got cap %d, want default %d", schedule.MaxExecutionsPerDay, DefaultMaxExecutionsPerDay)
	}
	// Hourly occurrences inside a 24h horizon: +1h through +23h.
	if materialized != 23 {
		t.Errorf("got %d materialized, want 23", materialized)
	}
	if len(stores.inserted) != 23 {
		t.Errorf("got %d inserted rows, want 23", len(stores.inserted))
	}
	for i := 1; i < len(stores.inserted); i++ {
		gap := stores.inserted[i].ScheduledFor.Sub(stores.inserted[i-1].ScheduledFor)
		if gap != time.Hour {
			t.Fatalf("occurrence %d gap = %v, want 1h", i, gap)
		}
	}
}

func TestCreateSchedule_DailyCapBoundsMaterialization(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	// Every 5 minutes would be ~287 occurrences; the cap wins.
	_, materialized, err := svc.CreateSchedule(context.Background(), ownerID, api.CreateScheduleRequest{
		AgentID:             agent.ID.String(),
		ScheduleType:        "interval",
		IntervalMinutes:     intPtr(5),
		MaxExecutionsPerDay: 10,
	})
	if err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}
	if materialized != 10 {
		t.Errorf("got %d materialized, want 10", materialized)
	}
}

func TestCreateSchedule_ValidationErrors(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	tests := []struct {
		name string
		req  api.CreateScheduleRequest
	}{
		{
			name: "unknown schedule type",
			req: api.CreateScheduleRequest{
				AgentID:         agent.ID.String(),
				ScheduleType:    "hourly",
				IntervalMinutes: intPtr(60),
			},
		},
		{
			name: "interval below floor",
			req: api.CreateScheduleRequest{
				AgentID:         agent.ID.String(),
				ScheduleType:    "interval",
				IntervalMinutes: intPtr(2),
			},
		},
		{
			name: "invalid cron expression",
			req: api.CreateScheduleRequest{
				AgentID:        agent.ID.String(),
				ScheduleType:   "cron",
				CronExpression: strPtr("not a cron"),
			},
		},
		{
			name: "two triggers set",
			req: api.CreateScheduleRequest{
				AgentID:         agent.ID.String(),
				ScheduleType:    "interval",
				IntervalMinutes: intPtr(60),
				CronExpression:  strPtr("0 * * * *"),
			},
		},
		{
			name: "trigger does not match type",
			req: api.CreateScheduleRequest{
				AgentID:        agent.ID.String(),
				ScheduleType:   "interval",
				CronExpression: strPtr("0 * * * *"),
			},
		},
		{
			name: "invalid timezone",
			req: api.CreateScheduleRequest{
				AgentID:         agent.ID.String(),
				ScheduleType:    "interval",
				IntervalMinutes: intPtr(60),
				Timezone:        "Mars/Olympus",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.CreateSchedule(context.Background(), ownerID, tt.req)
			if !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateSchedule_PermissionDenied(t *testing.T) {
	stores := newMockStores()
	stores.access = false
	ownerID := uuid.New()
	agent := activeAgent(stores, uuid.New())
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	_, _, err := svc.CreateSchedule(context.Background(), ownerID, api.CreateScheduleRequest{
		AgentID:         agent.ID.String(),
		ScheduleType:    "interval",
		IntervalMinutes: intPtr(60),
	})
	if !apperr.IsPermission(err) {
		t.Errorf("expected permission error, got %v", err)
	}
}

func TestCreateSchedule_StoppedAgent(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	agent.Status = store.AgentStatusStopped
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	_, _, err := svc.CreateSchedule(context.Background(), ownerID, api.CreateScheduleRequest{
		AgentID:         agent.ID.String(),
		ScheduleType:    "interval",
		IntervalMinutes: intPtr(60),
	})
	if !apperr.IsValidation(err) {
		t.Errorf("expected validation error for stopped agent, got %v", err)
	}
}

func TestMaterializeWindow_Idempotent(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	schedule := &store.Schedule{
		ID:                  uuid.New(),
		AgentID:             agent.ID,
		OwnerID:             ownerID,
		Type:                store.ScheduleTypeInterval,
		IntervalMinutes:     intPtr(60),
		Enabled:             true,
		MaxExecutionsPerDay: 100,
	}

	now := time.Now().UTC()
	first, err := svc.MaterializeWindow(context.Background(), schedule, now)
	if err != nil {
		t.Fatalf("MaterializeWindow failed: %v", err)
	}
	if first != 23 {
		t.Fatalf("first pass materialized %d, want 23", first)
	}

	// A second pass over the same window adds nothing.
	second, err := svc.MaterializeWindow(context.Background(), schedule, now)
	if err != nil {
		t.Fatalf("MaterializeWindow failed: %v", err)
	}
	if second != 0 {
		t.Errorf("second pass materialized %d, want 0", second)
	}
}

func TestUpdateSchedule_DisableSkipsPending(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	schedule, _, err := svc.CreateSchedule(context.Background(), ownerID, api.CreateScheduleRequest{
		AgentID:         agent.ID.String(),
		ScheduleType:    "interval",
		IntervalMinutes: intPtr(60),
	})
	if err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}

	updated, err := svc.UpdateSchedule(context.Background(), ownerID, schedule.ID, api.UpdateScheduleRequest{
		Enabled: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("UpdateSchedule failed: %v", err)
	}
	if updated.Enabled {
		t.Error("expected schedule disabled")
	}
	if stores.skipped != 1 {
		t.Errorf("expected pending executions skipped once, got %d", stores.skipped)
	}
}

func TestUpdateSchedule_WrongOwner(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	schedule, _, err := svc.CreateSchedule(context.Background(), ownerID, api.CreateScheduleRequest{
		AgentID:         agent.ID.String(),
		ScheduleType:    "interval",
		IntervalMinutes: intPtr(60),
	})
	if err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}

	_, err = svc.UpdateSchedule(context.Background(), uuid.New(), schedule.ID, api.UpdateScheduleRequest{
		Enabled: boolPtr(false),
	})
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not-found for foreign owner, got %v", err)
	}
}

func dueExecution(stores *mockStores, schedule *store.Schedule) store.ScheduledExecution {
	se := store.ScheduledExecution{
		ID:           uuid.New(),
		ScheduleID:   schedule.ID,
		AgentID:      schedule.AgentID,
		OwnerID:      schedule.OwnerID,
		ScheduledFor: time.Now().Add(-time.Minute),
		Status:       store.ScheduledStatusScheduled,
	}
	stores.due = append(stores.due, se)
	return se
}

func TestProcessScheduledExecutions_Success(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)

	elapsed := int64(1200)
	waiter := &mockWaiter{result: &store.Execution{
		Status:          store.ExecutionStatusCompleted,
		Result:          json.RawMessage(`{"ok": true}`),
		ExecutionTimeMS: &elapsed,
	}}
	queue := &mockQueue{}
	notifier := &mockNotifier{}
	svc := newTestService(stores, queue, waiter, notifier, &mockAlerter{})

	schedule := &store.Schedule{
		ID:              uuid.New(),
		AgentID:         agent.ID,
		OwnerID:         ownerID,
		Type:            store.ScheduleTypeInterval,
		IntervalMinutes: intPtr(60),
		Enabled:         true,
		RetryOnFailure:  true,
		NotifyOnSuccess: true,
	}
	stores.schedules[schedule.ID] = schedule
	se := dueExecution(stores, schedule)

	resp, err := svc.ProcessScheduledExecutions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ProcessScheduledExecutions failed: %v", err)
	}
	if resp.Processed != 1 || resp.Successful != 1 || resp.Failed != 0 {
		t.Errorf("got %+v, want 1 processed, 1 successful", resp)
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued execution, got %d", len(queue.enqueued))
	}
	enq := queue.enqueued[0]
	if enq.Priority != store.PriorityScheduled {
		t.Errorf("got priority %d, want %d", enq.Priority, store.PriorityScheduled)
	}
	if enq.MaxRetries != 3 {
		t.Errorf("got max_retries %d, want 3 with retry_on_failure", enq.MaxRetries)
	}

	var payload api.ExecutionPayload
	if err := json.Unmarshal(enq.Payload, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if !payload.Scheduled || payload.ScheduledExecutionID == nil || *payload.ScheduledExecutionID != se.ID {
		t.Errorf("payload does not reference the scheduled execution: %+v", payload)
	}

	if stores.finished[se.ID] != store.ScheduledStatusCompleted {
		t.Errorf("got finish status %s, want completed", stores.finished[se.ID])
	}
	if len(notifier.outcomes) != 1 || !notifier.outcomes[0].Success {
		t.Errorf("expected one success notification, got %+v", notifier.outcomes)
	}
}

func TestProcessScheduledExecutions_Timeout(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)

	waiter := &mockWaiter{timeout: true}
	notifier := &mockNotifier{}
	svc := newTestService(stores, &mockQueue{}, waiter, notifier, &mockAlerter{})

	schedule := &store.Schedule{
		ID:              uuid.New(),
		AgentID:         agent.ID,
		OwnerID:         ownerID,
		Type:            store.ScheduleTypeInterval,
		IntervalMinutes: intPtr(60),
		Enabled:         true,
		NotifyOnFailure: true,
	}
	stores.schedules[schedule.ID] = schedule
	se := dueExecution(stores, schedule)

	resp, err := svc.ProcessScheduledExecutions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ProcessScheduledExecutions failed: %v", err)
	}
	if resp.Processed != 1 || resp.Failed != 1 {
		t.Errorf("got %+v, want 1 processed, 1 failed", resp)
	}
	if stores.finished[se.ID] != store.ScheduledStatusFailed {
		t.Errorf("got finish status %s, want failed", stores.finished[se.ID])
	}
	if stores.finishedErrs[se.ID] != "execution timed out" {
		t.Errorf("got error %q, want %q", stores.finishedErrs[se.ID], "execution timed out")
	}
	if len(notifier.outcomes) != 1 || notifier.outcomes[0].Success {
		t.Errorf("expected one failure notification, got %+v", notifier.outcomes)
	}
}

func TestProcessScheduledExecutions_LostClaimNotCounted(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	svc := newTestService(stores, &mockQueue{}, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	schedule := &store.Schedule{
		ID:              uuid.New(),
		AgentID:         agent.ID,
		OwnerID:         ownerID,
		Type:            store.ScheduleTypeInterval,
		IntervalMinutes: intPtr(60),
		Enabled:         true,
	}
	stores.schedules[schedule.ID] = schedule
	se := dueExecution(stores, schedule)
	stores.claimDenied[se.ID] = true

	resp, err := svc.ProcessScheduledExecutions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ProcessScheduledExecutions failed: %v", err)
	}
	if resp.Processed != 0 {
		t.Errorf("lost claim should not be counted, got %+v", resp)
	}
}

func TestProcessScheduledExecutions_StoppedAgentFails(t *testing.T) {
	stores := newMockStores()
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)
	agent.Status = store.AgentStatusStopped

	queue := &mockQueue{}
	svc := newTestService(stores, queue, &mockWaiter{}, &mockNotifier{}, &mockAlerter{})

	schedule := &store.Schedule{
		ID:              uuid.New(),
		AgentID:         agent.ID,
		OwnerID:         ownerID,
		Type:            store.ScheduleTypeInterval,
		IntervalMinutes: intPtr(60),
		Enabled:         true,
	}
	stores.schedules[schedule.ID] = schedule
	se := dueExecution(stores, schedule)

	resp, err := svc.ProcessScheduledExecutions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ProcessScheduledExecutions failed: %v", err)
	}
	if resp.Failed != 1 {
		t.Errorf("got %+v, want 1 failed", resp)
	}
	if len(queue.enqueued) != 0 {
		t.Error("stopped agent must not be enqueued")
	}
	if stores.finishedErrs[se.ID] != "agent is stopped" {
		t.Errorf("got error %q, want %q", stores.finishedErrs[se.ID], "agent is stopped")
	}
}

func TestProcessScheduledExecutions_FailureSpikeAlert(t *testing.T) {
	stores := newMockStores()
	stores.recentFails = 6
	ownerID := uuid.New()
	agent := activeAgent(stores, ownerID)

	waiter := &mockWaiter{timeout: true}
	alerter := &mockAlerter{}
	svc := newTestService(stores, &mockQueue{}, waiter, &mockNotifier{}, alerter)

	schedule := &store.Schedule{
		ID:              uuid.New(),
		AgentID:         agent.ID,
		OwnerID:         ownerID,
		Type:            store.ScheduleTypeInterval,
		IntervalMinutes: intPtr(60),
		Enabled:         true,
	}
	stores.schedules[schedule.ID] = schedule
	dueExecution(stores, schedule)

	if _, err := svc.ProcessScheduledExecutions(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessScheduledExecutions failed: %v", err)
	}
	if alerter.spikes != 1 {
		t.Errorf("expected one failure spike alert, got %d", alerter.spikes)
	}
}

func TestCronStrategy_NextOccurrence(t *testing.T) {
	strategy := NewCronStrategy()

	after := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	next, err := strategy.NextOccurrence("0 * * * *", "", after)
	if err != nil {
		t.Fatalf("NextOccurrence failed: %v", err)
	}
	want := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}

	if err := strategy.Validate("*/5 * * * *"); err != nil {
		t.Errorf("expected valid expression, got %v", err)
	}
	if err := strategy.Validate("61 * * * *"); err == nil {
		t.Error("expected invalid expression to fail")
	}
}

func TestCronStrategy_Timezone(t *testing.T) {
	strategy := NewCronStrategy()

	// 09:00 in New York is 13:00 or 14:00 UTC depending on DST; in March
	// (EDT) it is 13:00 UTC.
	after := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	next, err := strategy.NextOccurrence("0 9 * * *", "America/New_York", after)
	if err != nil {
		t.Fatalf("NextOccurrence failed: %v", err)
	}
	want := time.Date(2026, 3, 16, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}
