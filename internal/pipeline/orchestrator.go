// Package pipeline runs one call job from pickup to a terminal status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"voicecall-platform/internal/audio"
	"voicecall-platform/internal/audit"
	"voicecall-platform/internal/calls"
	"voicecall-platform/internal/telephony"
	"voicecall-platform/internal/tts"
	"voicecall-platform/pkg/logger"
	"voicecall-platform/pkg/utils"
)

// Normalizer prepares audio for the telephony leg. It never fails the caller.
type Normalizer interface {
	Normalize(ctx context.Context, in string) audio.Result
}

// SourceFetcher downloads a caller-supplied audio source.
type SourceFetcher interface {
	Fetch(ctx context.Context, src, destStem string) (string, error)
}

type Config struct {
	AudioDir string
	// StaleAfter is how long a call may sit in processing before a redelivery finalizes it as failed.
	StaleAfter      time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration
	// PersistTimeout bounds each store write. Writes run even after ctx is cancelled.
	PersistTimeout time.Duration
}

type Job struct {
	CallID string
	JobID  string
	Worker string
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	// OutcomeInFlight means another delivery still owns the call. The job must
	// stay unacked so a later redelivery can finalize the call once it goes stale.
	OutcomeInFlight       Outcome = "in_flight"
	OutcomeStaleFinalized Outcome = "stale_finalized"
	OutcomeNotFound       Outcome = "not_found"
)

const staleMessage = "worker lost before completion"

// Orchestrator is the only writer of terminal call state.
type Orchestrator struct {
	calls      calls.Repository
	tts        tts.Provider
	fetcher    SourceFetcher
	normalizer Normalizer
	dialer     telephony.Dialer
	audit      *audit.Service
	cfg        Config
	clock      func() time.Time
}

type Deps struct {
	Calls      calls.Repository
	TTS        tts.Provider
	Fetcher    SourceFetcher
	Normalizer Normalizer
	Dialer     telephony.Dialer
	// Audit is optional.
	Audit *audit.Service
}

func New(d Deps, cfg Config) *Orchestrator {
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = 3
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 200 * time.Millisecond
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &Orchestrator{
		calls:      d.Calls,
		tts:        d.TTS,
		fetcher:    d.Fetcher,
		normalizer: d.Normalizer,
		dialer:     d.Dialer,
		audit:      d.Audit,
		cfg:        cfg,
		clock:      time.Now,
	}
}

// Run drives the call to completed or failed. A non-nil error means the store
// could not be written after retries; the job must not be acked so it is redelivered.
func (o *Orchestrator) Run(ctx context.Context, job Job) (outcome Outcome, err error) {
	ctx = logger.WithCall(ctx, job.CallID, job.JobID)
	log := logger.From(ctx)

	var c calls.Call
	err = o.persist(ctx, func(ctx context.Context) error {
		var gerr error
		c, gerr = o.calls.Get(ctx, job.CallID)
		if errors.Is(gerr, calls.ErrNotFound) {
			return utils.Permanent(gerr)
		}
		return gerr
	})
	if errors.Is(err, calls.ErrNotFound) {
		log.Warn("job references unknown call")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("pipeline: load call: %w", err)
	}

	startedAt := o.stamp(c.CreatedAt)
	var (
		current calls.Call
		won     bool
	)
	err = o.persist(ctx, func(ctx context.Context) error {
		var merr error
		current, won, merr = o.calls.MarkProcessing(ctx, c.ID, startedAt)
		return merr
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: mark processing: %w", err)
	}
	if !won {
		return o.handleLostGuard(ctx, job, current)
	}
	c = current
	o.record(ctx, c.ID, audit.EventTypeProcessing, calls.CallStatusPending, calls.CallStatusProcessing, job.Worker, "", nil)
	log.Info("call processing started")

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panic", slog.Any("panic", p))
			outcome, err = o.finishFailed(ctx, c, job, fmt.Sprintf("internal error: %v", p))
		}
	}()

	res, stageErr := o.execute(ctx, c)
	if stageErr != nil {
		return o.finishFailed(ctx, c, job, stageErr.Error())
	}
	return o.finishCompleted(ctx, c, job, res)
}

func (o *Orchestrator) handleLostGuard(ctx context.Context, job Job, c calls.Call) (Outcome, error) {
	log := logger.From(ctx)
	if c.Status == calls.CallStatusProcessing && c.StartedAt != nil && o.clock().Sub(*c.StartedAt) > o.cfg.StaleAfter {
		log.Warn("finalizing stranded call", slog.Time("started_at", *c.StartedAt))
		out, err := o.fail(ctx, c, job, staleMessage, audit.EventTypeStaleFinalized)
		if err != nil || out != OutcomeFailed {
			return out, err
		}
		return OutcomeStaleFinalized, nil
	}
	if c.Status == calls.CallStatusProcessing {
		log.Info("call still owned by another delivery")
		return OutcomeInFlight, nil
	}
	log.Info("redelivered job ignored", slog.String("status", string(c.Status)))
	o.record(ctx, c.ID, audit.EventTypeRedeliverySkipped, c.Status, c.Status, job.Worker, "", map[string]any{"job_id": job.JobID})
	return OutcomeSkipped, nil
}

type stageResult struct {
	audioPath string
	dial      telephony.Outcome
}

// execute runs synthesis (or fetch), normalization and the dial in order.
func (o *Orchestrator) execute(ctx context.Context, c calls.Call) (stageResult, error) {
	log := logger.From(ctx)
	stem := filepath.Join(o.cfg.AudioDir, c.ID)

	var src string
	if c.AudioSource != "" {
		p, err := o.fetcher.Fetch(ctx, c.AudioSource, stem+".source")
		if err != nil {
			return stageResult{}, err
		}
		src = p
	} else {
		dest := stem + "." + o.tts.Format()
		if err := o.tts.Synthesize(ctx, c.Text, dest); err != nil {
			return stageResult{}, err
		}
		src = dest
	}

	norm := o.normalizer.Normalize(ctx, src)
	if norm.Degraded {
		log.Warn("continuing with unnormalized audio", slog.String("path", norm.Path))
	}

	out, err := o.dialer.Dial(ctx, telephony.Request{
		CallID:    c.ID,
		To:        c.ToNumber,
		From:      c.FromNumber,
		AudioPath: norm.Path,
	})
	if err != nil {
		return stageResult{}, err
	}
	return stageResult{audioPath: norm.Path, dial: out}, nil
}

func (o *Orchestrator) finishCompleted(ctx context.Context, c calls.Call, job Job, res stageResult) (Outcome, error) {
	done := calls.Completion{
		AudioFilePath:   res.audioPath,
		DialMode:        res.dial.Mode,
		DurationSeconds: int(res.dial.Duration.Round(time.Second) / time.Second),
		CompletedAt:     o.stamp(derefTime(c.StartedAt)),
	}
	err := o.persist(ctx, func(ctx context.Context) error {
		return permanentIfTransition(o.calls.Complete(ctx, c.ID, done))
	})
	if errors.Is(err, calls.ErrInvalidTransition) {
		logger.From(ctx).Warn("call already finalized elsewhere")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("pipeline: complete: %w", err)
	}
	logger.From(ctx).Info("call completed",
		slog.String("dial_mode", string(done.DialMode)),
		slog.Int("duration_seconds", done.DurationSeconds),
	)
	o.record(ctx, c.ID, audit.EventTypeCompleted, calls.CallStatusProcessing, calls.CallStatusCompleted, job.Worker, "", map[string]any{
		"dial_mode":        done.DialMode,
		"audio_file_path":  done.AudioFilePath,
		"duration_seconds": done.DurationSeconds,
		"sip_code":         res.dial.SIPCode,
	})
	return OutcomeCompleted, nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, c calls.Call, job Job, message string) (Outcome, error) {
	return o.fail(ctx, c, job, message, audit.EventTypeFailed)
}

func (o *Orchestrator) fail(ctx context.Context, c calls.Call, job Job, message string, event audit.EventType) (Outcome, error) {
	at := o.stamp(derefTime(c.StartedAt))
	err := o.persist(ctx, func(ctx context.Context) error {
		return permanentIfTransition(o.calls.Fail(ctx, c.ID, message, at))
	})
	if errors.Is(err, calls.ErrInvalidTransition) {
		logger.From(ctx).Warn("call already finalized elsewhere")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("pipeline: fail: %w", err)
	}
	logger.From(ctx).Warn("call failed", slog.String("error", message))
	o.record(ctx, c.ID, event, calls.CallStatusProcessing, calls.CallStatusFailed, job.Worker, message, nil)
	return OutcomeFailed, nil
}

// persist retries store calls. It keeps going after ctx is cancelled so a
// finished call still gets its terminal status during shutdown.
func (o *Orchestrator) persist(ctx context.Context, fn func(ctx context.Context) error) error {
	base := context.WithoutCancel(ctx)
	return utils.Retry(base, o.cfg.PersistAttempts, o.cfg.PersistBackoff, func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, o.cfg.PersistTimeout)
		defer cancel()
		return fn(wctx)
	})
}

func (o *Orchestrator) record(ctx context.Context, callID string, typ audit.EventType, from, to calls.CallStatus, actor, message string, md map[string]any) {
	if o.audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := o.audit.LogTransition(actx, callID, typ, string(from), string(to), actor, message, md); err != nil {
		logger.From(ctx).Warn("audit append failed", slog.String("event", string(typ)), slog.String("error", err.Error()))
	}
}

// stamp returns now at microsecond precision, pushed past after if needed so
// lifecycle timestamps are strictly increasing.
func (o *Orchestrator) stamp(after time.Time) time.Time {
	t := o.clock().UTC().Truncate(time.Microsecond)
	if !after.IsZero() && !t.After(after) {
		t = after.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return t
}

func permanentIfTransition(err error) error {
	if errors.Is(err, calls.ErrInvalidTransition) || errors.Is(err, calls.ErrNotFound) {
		return utils.Permanent(err)
	}
	return err
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
