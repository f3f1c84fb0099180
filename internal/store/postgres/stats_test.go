package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestExecutionStats(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ownerID := uuid.New()
	agentID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`WHERE status IN \('completed', 'failed'\) AND completed_at > \$1\s+GROUP BY owner_id, agent_id`).
		WithArgs(now.Add(-time.Hour), now.Add(-time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "agent_id", "count", "failures", "total_ms", "recent"}).
			AddRow(ownerID, agentID, 4, 1, 3500, 2))

	stats, err := s.ExecutionStats(context.Background(), now.Add(-time.Hour), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ExecutionStats failed: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 row, got %d", len(stats))
	}
	if stats[0].OwnerID != ownerID || stats[0].Executions != 4 || stats[0].Failures != 1 || stats[0].Recent != 2 {
		t.Errorf("unexpected row: %+v", stats[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestExecutionTotals(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(\*\) FILTER \(WHERE status = 'failed'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "failed"}).AddRow(20, 5))

	totals, err := s.ExecutionTotals(context.Background())
	if err != nil {
		t.Fatalf("ExecutionTotals failed: %v", err)
	}
	if totals.Total != 20 || totals.Failed != 5 {
		t.Errorf("got %+v, want total 20 failed 5", totals)
	}
}

func TestExecutionHistory(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ownerID := uuid.New()
	start := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery(`date_trunc\('minute', completed_at\)[\s\S]*GROUP BY bucket\s+ORDER BY bucket ASC`).
		WithArgs(ownerID, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "count", "failures", "total_ms"}).
			AddRow(start.Add(5*time.Minute), 3, 0, 900).
			AddRow(start.Add(6*time.Minute), 2, 1, 400))

	buckets, err := s.ExecutionHistory(context.Background(), ownerID, start, end)
	if err != nil {
		t.Fatalf("ExecutionHistory failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].Executions != 3 || buckets[1].Failures != 1 {
		t.Errorf("unexpected buckets: %+v", buckets)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
