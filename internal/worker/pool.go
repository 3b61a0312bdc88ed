// Package worker pulls call jobs off the queue and hands each to the pipeline.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"voicecall-platform/internal/pipeline"
	"voicecall-platform/internal/queue"
	"voicecall-platform/pkg/logger"
)

// Runner executes one job to a terminal outcome.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job) (pipeline.Outcome, error)
}

type Config struct {
	// Name prefixes worker ids in logs and audit events.
	Name         string
	Concurrency  int
	PollInterval time.Duration
	// ReapInterval is how often expired in-flight jobs are returned to the ready set.
	ReapInterval time.Duration
}

// Pool runs Concurrency independent loops. Each loop holds one job at a time,
// so pool size bounds concurrent calls per process.
type Pool struct {
	q       queue.Queue
	limiter queue.Limiter
	runner  Runner
	cfg     Config
}

func New(q queue.Queue, limiter queue.Limiter, runner Runner, cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 15 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if limiter == nil {
		limiter = queue.Unlimited{}
	}
	return &Pool{q: q, limiter: limiter, runner: runner, cfg: cfg}
}

// Run blocks until ctx is done. Each loop returns once its current job has
// been recorded.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i <= p.cfg.Concurrency; i++ {
		id := fmt.Sprintf("%s-%d", p.cfg.Name, i)
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	g.Go(func() error {
		p.reap(ctx)
		return nil
	})
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, id string) {
	log := logger.From(ctx).With("worker_id", id)
	ctx = logger.With(ctx, log)
	log.Info("worker started")
	defer log.Info("worker stopped")

	for ctx.Err() == nil {
		busy, err := p.Step(ctx, id)
		if err != nil {
			log.Error("job step failed", slog.String("error", err.Error()))
		}
		if busy {
			continue
		}
		t := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
}

// Step reserves and runs at most one job. busy reports whether a job was taken.
func (p *Pool) Step(ctx context.Context, workerID string) (busy bool, err error) {
	n, err := p.q.Ready(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("worker: ready: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	ok, err := p.limiter.Acquire(ctx, workerID)
	if err != nil {
		return false, fmt.Errorf("worker: acquire trunk slot: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if rerr := p.limiter.Release(context.WithoutCancel(ctx), workerID); rerr != nil {
			logger.From(ctx).Warn("trunk slot release failed", slog.String("error", rerr.Error()))
		}
	}()

	d, ok, err := p.q.Reserve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("worker: reserve: %w", err)
	}
	if !ok {
		return false, nil
	}

	log := logger.From(ctx)
	if d.Attempt > 1 {
		log.Info("job redelivered", slog.String("job_id", d.Job.ID), slog.Int("attempt", d.Attempt))
	}

	// Shutdown cancels ctx and interrupts an active dial. The pipeline still
	// records the resulting failure before Run returns.
	out, err := p.runner.Run(ctx, pipeline.Job{CallID: d.Job.CallID, JobID: d.Job.ID, Worker: workerID})
	if err != nil {
		// Left in flight: the reaper redelivers it once the visibility deadline passes.
		return true, fmt.Errorf("worker: job %s: %w", d.Job.ID, err)
	}
	if out == pipeline.OutcomeInFlight {
		// Unacked so it keeps coming back until the owner finishes or the call goes stale.
		log.Debug("job left in flight", slog.String("job_id", d.Job.ID))
		return true, nil
	}
	if aerr := p.q.Ack(context.WithoutCancel(ctx), d.Job.ID, finalState(out)); aerr != nil {
		return true, fmt.Errorf("worker: ack %s: %w", d.Job.ID, aerr)
	}
	log.Debug("job acked", slog.String("job_id", d.Job.ID), slog.String("outcome", string(out)))
	return true, nil
}

func (p *Pool) reap(ctx context.Context) {
	log := logger.From(ctx)
	t := time.NewTicker(p.cfg.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.q.RequeueExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("requeue expired jobs", slog.String("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				log.Warn("requeued expired jobs", slog.Int("count", n))
			}
		}
	}
}

// finalState maps a pipeline outcome to the job state reported by the status
// surface. A skipped redelivery leaves whatever the winning delivery recorded.
func finalState(o pipeline.Outcome) queue.State {
	switch o {
	case pipeline.OutcomeCompleted:
		return queue.StateSucceeded
	case pipeline.OutcomeFailed, pipeline.OutcomeStaleFinalized, pipeline.OutcomeNotFound:
		return queue.StateFailed
	default:
		return ""
	}
}
