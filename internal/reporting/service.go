package reporting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"voicecall-platform/internal/calls"
)

// Source is the aggregate read the call store exposes.
type Source interface {
	Summary(ctx context.Context) (calls.Summary, error)
}

type Service struct {
	src   Source
	clock func() time.Time
}

func NewService(src Source) *Service { return &Service{src: src, clock: time.Now} }

func (s *Service) CallMetrics(ctx context.Context) (CallMetrics, error) {
	if s.src == nil {
		return CallMetrics{}, errors.New("reporting: source not configured")
	}
	sum, err := s.src.Summary(ctx)
	if err != nil {
		return CallMetrics{}, fmt.Errorf("reporting: %w", err)
	}

	out := CallMetrics{
		Pending:     sum.ByStatus[calls.CallStatusPending],
		Processing:  sum.ByStatus[calls.CallStatusProcessing],
		Completed:   sum.ByStatus[calls.CallStatusCompleted],
		Failed:      sum.ByStatus[calls.CallStatusFailed],
		GeneratedAt: s.clock().UTC(),
	}
	for _, n := range sum.ByStatus {
		out.Total += n
	}
	out.SimulatedCompletions = sum.Simulated
	out.RealCompletions = out.Completed - sum.Simulated
	if out.Total > 0 {
		out.SuccessRate = percent(out.Completed, out.Total)
		out.RealSuccessRate = percent(out.RealCompletions, out.Total)
	}
	return out, nil
}

func percent(n, total int) float64 {
	return math.Round(float64(n)/float64(total)*10000) / 100
}
