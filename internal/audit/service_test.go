package audit

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestService_AppendRequiresCallAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeCreated}); err == nil {
		t.Fatalf("expected error without call id")
	}
	if err := svc.Append(context.Background(), Event{CallID: "c1"}); err == nil {
		t.Fatalf("expected error without type")
	}
}

func TestService_LogTransitionFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return fixed }

	err := svc.LogTransition(context.Background(), "c1", EventTypeCompleted, "processing", "completed", "worker-1", "", map[string]any{"dial_mode": "simulated"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ID == "" || !e.CreatedAt.Equal(fixed) {
		t.Fatalf("expected id and clock time, got %+v", e)
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(e.Metadata), &md); err != nil || md["dial_mode"] != "simulated" {
		t.Fatalf("unexpected metadata %q (%v)", e.Metadata, err)
	}

	hist, err := svc.History(context.Background(), "c1")
	if err != nil || len(hist) != 1 {
		t.Fatalf("expected history of 1, got %d (%v)", len(hist), err)
	}
}

func TestPostgresRepo_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_events")).
		WithArgs("e1", "c1", "call_failed", "processing", "failed", "worker-2", "boom", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepo(db)
	err = repo.Append(context.Background(), Event{
		ID: "e1", CallID: "c1", Type: EventTypeFailed,
		FromStatus: "processing", ToStatus: "failed", Actor: "worker-2", Message: "boom", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
