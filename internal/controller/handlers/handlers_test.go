package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"agentplane/internal/controller/middleware"
	"agentplane/internal/notify"
	"agentplane/internal/scheduler"
	"agentplane/internal/store"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
)

// Mock transaction
type mockTx struct{}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (m *mockTx) Commit() error { return nil }

func (m *mockTx) Rollback() error { return nil }

// Mock Store
type mockStore struct {
	beginTxErr error
	pingErr    error

	// Organization hooks
	createOrgErr error
	capturedOrg  *store.Organization
	capturedHash string

	// Agent hooks
	createAgentErr    error
	capturedAgent     *store.Agent
	getAgentResp      *store.Agent
	getAgentErr       error
	setAgentStatusErr error
	capturedStatus    store.AgentStatus
	hasAccessResp     bool
	hasAccessErr      error

	// Schedule hooks
	createScheduleErr  error
	capturedSchedule   *store.Schedule
	getScheduleResp    *store.Schedule
	getScheduleErr     error
	updateScheduleErr  error
	insertedScheduled  int
	countScheduledResp int
	latestScheduled    *time.Time
	skippedResp        int64

	// Queue hooks
	enqueueErr        error
	capturedExecution *store.Execution
	getExecutionResp  *store.Execution
	getExecutionErr   error
	cancelPendingResp int64
	cancelPendingErr  error
}

func (m *mockStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if m.beginTxErr != nil {
		return nil, m.beginTxErr
	}
	return &mockTx{}, nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) CreateOrganization(ctx context.Context, org *store.Organization, hashedKey string) error {
	m.capturedOrg = org
	m.capturedHash = hashedKey
	return m.createOrgErr
}

func (m *mockStore) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*store.Organization, error) {
	return nil, apperr.New(apperr.CodeNotFound, "no such organization")
}

func (m *mockStore) GetOrganizationByAPIKeyHash(ctx context.Context, hash string) (*store.Organization, error) {
	return nil, apperr.New(apperr.CodeNotFound, "no such organization")
}

func (m *mockStore) CreateAgent(ctx context.Context, tx store.DBTransaction, agent *store.Agent) error {
	m.capturedAgent = agent
	return m.createAgentErr
}

func (m *mockStore) GetAgentByID(ctx context.Context, id uuid.UUID) (*store.Agent, error) {
	return m.getAgentResp, m.getAgentErr
}

func (m *mockStore) SetAgentStatus(ctx context.Context, tx store.DBTransaction, agentID, ownerID uuid.UUID, status store.AgentStatus) error {
	m.capturedStatus = status
	return m.setAgentStatusErr
}

func (m *mockStore) HasActiveAccess(ctx context.Context, orgID, agentID uuid.UUID) (bool, error) {
	return m.hasAccessResp, m.hasAccessErr
}

func (m *mockStore) CreateSchedule(ctx context.Context, tx store.DBTransaction, schedule *store.Schedule) error {
	m.capturedSchedule = schedule
	return m.createScheduleErr
}

func (m *mockStore) GetScheduleByID(ctx context.Context, id uuid.UUID) (*store.Schedule, error) {
	return m.getScheduleResp, m.getScheduleErr
}

func (m *mockStore) UpdateSchedule(ctx context.Context, tx store.DBTransaction, schedule *store.Schedule) error {
	m.capturedSchedule = schedule
	return m.updateScheduleErr
}

func (m *mockStore) ListEnabledSchedules(ctx context.Context) ([]store.Schedule, error) {
	return nil, nil
}

func (m *mockStore) InsertScheduledExecutions(ctx context.Context, tx store.DBTransaction, execs []store.ScheduledExecution) error {
	m.insertedScheduled += len(execs)
	return nil
}

func (m *mockStore) CountScheduledInWindow(ctx context.Context, scheduleID uuid.UUID, from, to time.Time) (int, error) {
	return m.countScheduledResp, nil
}

func (m *mockStore) LatestScheduledFor(ctx context.Context, scheduleID uuid.UUID) (*time.Time, error) {
	return m.latestScheduled, nil
}

func (m *mockStore) SkipPendingScheduledExecutions(ctx context.Context, tx store.DBTransaction, scheduleID uuid.UUID) (int64, error) {
	return m.skippedResp, nil
}

func (m *mockStore) ListDueScheduledExecutions(ctx context.Context, now time.Time, limit int) ([]store.ScheduledExecution, error) {
	return nil, nil
}

func (m *mockStore) ClaimScheduledExecution(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func (m *mockStore) FinishScheduledExecution(ctx context.Context, id uuid.UUID, status store.ScheduledExecutionStatus, result json.RawMessage, executionTimeMS int64, errMsg *string) error {
	return nil
}

func (m *mockStore) CountRecentFailures(ctx context.Context, agentID uuid.UUID, since time.Time) (int, error) {
	return 0, nil
}

func (m *mockStore) Enqueue(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	m.capturedExecution = execution
	return m.enqueueErr
}

func (m *mockStore) ClaimBatch(ctx context.Context, ownerIDs []uuid.UUID, limit int) ([]store.ClaimedItem, error) {
	return nil, nil
}

func (m *mockStore) Complete(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, result json.RawMessage, executionTimeMS int64, memoryUsedMB int) error {
	return nil
}

func (m *mockStore) Fail(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, errMsg string) (bool, error) {
	return true, nil
}

func (m *mockStore) Release(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, retryAfter time.Duration) error {
	return nil
}

func (m *mockStore) Cancel(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID) error {
	return nil
}

func (m *mockStore) CancelPendingForAgent(ctx context.Context, tx store.DBTransaction, agentID uuid.UUID) (int64, error) {
	return m.cancelPendingResp, m.cancelPendingErr
}

func (m *mockStore) SetVisibleAfter(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, visibleAfter time.Time) error {
	return nil
}

func (m *mockStore) RequeueExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *mockStore) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	return m.getExecutionResp, m.getExecutionErr
}

func (m *mockStore) Count(ctx context.Context) (int64, error) { return 0, nil }

// mockWaiter settles waits immediately with a canned execution.
type mockWaiter struct {
	exec *store.Execution
	err  error
}

func (m *mockWaiter) Wait(ctx context.Context, executionID uuid.UUID, timeout time.Duration) (*store.Execution, error) {
	return m.exec, m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHandlers builds Handlers around the mock store with a real
// scheduler service.
func newTestHandlers(m *mockStore, waiter Waiter) *Handlers {
	logger := testLogger()
	sched := scheduler.NewService(m, m, scheduler.NewCronStrategy(), waiter,
		notify.NewLogNotifier(logger), notify.NewLogAlerter(logger), logger, scheduler.Config{})
	return New(m, sched, waiter, nil, nil, time.Second)
}

// authedRequest builds a request whose context carries the organization,
// as the auth middleware would.
func authedRequest(method, target string, body io.Reader, org *store.Organization) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(middleware.WithOrg(req.Context(), org))
}

func testOrg() *store.Organization {
	return &store.Organization{
		ID:        uuid.New(),
		Name:      "Test Org",
		Tier:      store.TierStarter,
		CreatedAt: time.Now(),
	}
}
