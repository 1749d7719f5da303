package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func sampleEntries(n int) []*domain.QueueEntry {
	entries := make([]*domain.QueueEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, &domain.QueueEntry{
			ID:           uuid.New(),
			LeadID:       uuid.New(),
			ScheduledFor: domain.Date{Year: 2024, Month: time.January, Day: 8},
			State:        domain.QueueStateQueued,
			CreatedAt:    time.Now().UTC(),
			UpdatedAt:    time.Now().UTC(),
		})
	}
	return entries
}

func TestCreateEntriesCountsInsertedRows(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewQueueRepository(db)

	// second row hits ON CONFLICT DO NOTHING and must not be counted
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO queue_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO queue_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	created, err := repo.CreateEntries(context.Background(), sampleEntries(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateEntriesFallsBackPerRow(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewQueueRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO queue_entries").WillReturnError(errors.New("bad row"))
	mock.ExpectRollback()
	mock.ExpectExec("INSERT INTO queue_entries").WillReturnError(errors.New("bad row"))
	mock.ExpectExec("INSERT INTO queue_entries").WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.CreateEntries(context.Background(), sampleEntries(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRequeueStaleReturnsAffectedCount(t *testing.T) {
	db, mock := mockDB(t)
	repo := NewQueueRepository(db)

	mock.ExpectExec("UPDATE queue_entries SET state = 'queued'").
		WillReturnResult(sqlmock.NewResult(0, 3))

	requeued, err := repo.RequeueStale(context.Background(), time.Now().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requeued != 3 {
		t.Fatalf("requeued = %d, want 3", requeued)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
