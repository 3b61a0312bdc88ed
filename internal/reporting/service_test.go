package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"voicecall-platform/internal/calls"
)

type staticSource struct {
	sum calls.Summary
	err error
}

func (s staticSource) Summary(context.Context) (calls.Summary, error) { return s.sum, s.err }

func TestCallMetrics_Aggregates(t *testing.T) {
	svc := NewService(staticSource{sum: calls.Summary{
		ByStatus: map[calls.CallStatus]int{
			calls.CallStatusPending:    1,
			calls.CallStatusProcessing: 1,
			calls.CallStatusCompleted:  4,
			calls.CallStatusFailed:     0,
		},
		Simulated: 1,
	}})
	now := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return now }

	out, err := svc.CallMetrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Total != 6 || out.Completed != 4 || out.Pending != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.SimulatedCompletions != 1 || out.RealCompletions != 3 {
		t.Fatalf("unexpected completion split: %+v", out)
	}
	if out.SuccessRate != 66.67 || out.RealSuccessRate != 50 {
		t.Fatalf("unexpected rates: %v %v", out.SuccessRate, out.RealSuccessRate)
	}
	if !out.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timestamp %s", out.GeneratedAt)
	}
}

func TestCallMetrics_EmptyStore(t *testing.T) {
	out, err := NewService(calls.NewMemoryRepo()).CallMetrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Total != 0 || out.SuccessRate != 0 {
		t.Fatalf("expected zero metrics, got %+v", out)
	}
}

func TestCallMetrics_SourceError(t *testing.T) {
	_, err := NewService(staticSource{err: errors.New("db down")}).CallMetrics(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
}
