package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seed(t *testing.T, r *MemoryRepo, id string) {
	t.Helper()
	err := r.Create(context.Background(), Call{
		ID:         id,
		ToNumber:   "+15551234567",
		FromNumber: "12156",
		Text:       "Hello",
		Priority:   PriorityHigh,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestMemoryRepo_CreateDefaultsToPending(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "c1")
	c, err := r.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != CallStatusPending {
		t.Fatalf("expected pending, got %s", c.Status)
	}
	if err := r.Create(context.Background(), Call{ID: "c1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryRepo_ConcurrentPickupHasSingleWinner(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "c1")

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, won, err := r.MarkProcessing(context.Background(), "c1", time.Now())
			if err != nil {
				t.Errorf("mark processing: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMemoryRepo_LoserDoesNotTouchStartedAt(t *testing.T) {
	r := NewMemoryRepo()
	seed(t, r, "c1")
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, won, _ := r.MarkProcessing(context.Background(), "c1", first); !won {
		t.Fatalf("expected first pickup to win")
	}
	c, won, err := r.MarkProcessing(context.Background(), "c1", first.Add(time.Hour))
	if err != nil || won {
		t.Fatalf("expected lost guard, won=%v err=%v", won, err)
	}
	if !c.StartedAt.Equal(first) {
		t.Fatalf("started_at changed: %v", c.StartedAt)
	}
}

func TestMemoryRepo_TerminalStatesAreImmutable(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	seed(t, r, "c1")
	now := time.Now()

	if err := r.Complete(ctx, "c1", Completion{AudioFilePath: "/a.wav", DialMode: DialModeReal, CompletedAt: now}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete from pending should fail, got %v", err)
	}
	if _, _, err := r.MarkProcessing(ctx, "c1", now); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := r.Complete(ctx, "c1", Completion{AudioFilePath: "/a.wav", DialMode: DialModeSimulated, DurationSeconds: 5, CompletedAt: now}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := r.Fail(ctx, "c1", "late failure", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fail after complete should be rejected, got %v", err)
	}
	if err := r.Complete(ctx, "c1", Completion{AudioFilePath: "/b.wav", DialMode: DialModeReal, CompletedAt: now}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second complete should be rejected, got %v", err)
	}

	c, _ := r.Get(ctx, "c1")
	if c.Status != CallStatusCompleted || c.AudioFilePath != "/a.wav" || c.DialMode != DialModeSimulated || c.ErrorMessage != "" {
		t.Fatalf("terminal record mutated: %+v", c)
	}

	s, err := r.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.ByStatus[CallStatusCompleted] != 1 || s.Simulated != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestMemoryRepo_GetUnknown(t *testing.T) {
	if _, err := NewMemoryRepo().Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
