// Package intake validates call requests, records them as pending and hands
// them to the queue. It never waits for the pipeline.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"voicecall-platform/internal/audit"
	"voicecall-platform/internal/calls"
	"voicecall-platform/internal/queue"
	"voicecall-platform/pkg/logger"
)

const (
	MaxBatchSize  = 1000
	MaxTextLength = 5000

	// StatusQueued is what callers see right after acceptance.
	StatusQueued = "queued"
)

var (
	ErrBatchTooLarge = errors.New("intake: batch too large")
	ErrEmptyBatch    = errors.New("intake: batch is empty")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("intake: %s %s", e.Field, e.Reason)
}

var numberPattern = regexp.MustCompile(`^\+?[0-9]{3,15}$`)

type Request struct {
	ToNumber    string `json:"to_number"`
	FromNumber  string `json:"from_number"`
	Text        string `json:"text,omitempty"`
	AudioSource string `json:"audio_source,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// Validate returns the normalized request or a *ValidationError.
func Validate(r Request) (Request, error) {
	r.ToNumber = strings.TrimSpace(r.ToNumber)
	r.FromNumber = strings.TrimSpace(r.FromNumber)
	r.Text = strings.TrimSpace(r.Text)
	r.AudioSource = strings.TrimSpace(r.AudioSource)

	if r.ToNumber == "" {
		return Request{}, &ValidationError{Field: "to_number", Reason: "is required"}
	}
	if !numberPattern.MatchString(r.ToNumber) {
		return Request{}, &ValidationError{Field: "to_number", Reason: "must be 3-15 digits with optional leading +"}
	}
	if r.FromNumber == "" {
		return Request{}, &ValidationError{Field: "from_number", Reason: "is required"}
	}
	if !numberPattern.MatchString(r.FromNumber) {
		return Request{}, &ValidationError{Field: "from_number", Reason: "must be 3-15 digits with optional leading +"}
	}

	if r.AudioSource != "" {
		u, err := url.Parse(r.AudioSource)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Request{}, &ValidationError{Field: "audio_source", Reason: "must be an http or https URL"}
		}
	} else if r.Text == "" {
		return Request{}, &ValidationError{Field: "text", Reason: "is required when audio_source is absent"}
	}
	if utf8.RuneCountInString(r.Text) > MaxTextLength {
		return Request{}, &ValidationError{Field: "text", Reason: fmt.Sprintf("exceeds %d characters", MaxTextLength)}
	}

	if r.Priority == 0 {
		r.Priority = calls.PriorityHigh
	}
	if !calls.ValidPriority(r.Priority) {
		return Request{}, &ValidationError{Field: "priority", Reason: "must be 1, 2 or 3"}
	}
	return r, nil
}

type Receipt struct {
	CallID     string `json:"call_id"`
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	ToNumber   string `json:"to_number"`
	FromNumber string `json:"from_number"`
}

type BatchResult struct {
	Queued  int      `json:"queued_calls"`
	Total   int      `json:"total_calls"`
	Skipped int      `json:"skipped"`
	CallIDs []string `json:"call_ids"`
}

// Status is a call plus the delivery state of its job.
type Status struct {
	Call      calls.Call    `json:"call"`
	JobStatus queue.State   `json:"job_status"`
	Events    []audit.Event `json:"events,omitempty"`
}

type Service struct {
	calls calls.Repository
	queue queue.Queue
	audit *audit.Service

	clock func() time.Time
	newID func() string
}

// NewService wires intake. a may be nil.
func NewService(repo calls.Repository, q queue.Queue, a *audit.Service) *Service {
	return &Service{calls: repo, queue: q, audit: a, clock: time.Now, newID: uuid.NewString}
}

// Submit records a pending call and enqueues its job. If the enqueue fails the
// call stays pending and the error is returned.
func (s *Service) Submit(ctx context.Context, req Request, actor string) (Receipt, error) {
	req, err := Validate(req)
	if err != nil {
		return Receipt{}, err
	}
	return s.submit(ctx, req, actor)
}

func (s *Service) submit(ctx context.Context, req Request, actor string) (Receipt, error) {
	c := calls.Call{
		ID:          s.newID(),
		ToNumber:    req.ToNumber,
		FromNumber:  req.FromNumber,
		Text:        req.Text,
		AudioSource: req.AudioSource,
		Priority:    req.Priority,
		Status:      calls.CallStatusPending,
		CreatedAt:   s.clock().UTC().Truncate(time.Microsecond),
		JobID:       s.newID(),
	}
	if err := s.calls.Create(ctx, c); err != nil {
		return Receipt{}, fmt.Errorf("intake: create call: %w", err)
	}
	if err := s.queue.Enqueue(ctx, queue.Job{ID: c.JobID, CallID: c.ID, Priority: c.Priority}); err != nil {
		return Receipt{}, fmt.Errorf("intake: enqueue call %s: %w", c.ID, err)
	}

	if s.audit != nil {
		md := map[string]any{"job_id": c.JobID, "priority": c.Priority}
		if err := s.audit.LogTransition(ctx, c.ID, audit.EventTypeCreated, "", string(calls.CallStatusPending), actor, "", md); err != nil {
			logger.From(ctx).Warn("audit append failed", slog.String("call_id", c.ID), slog.String("error", err.Error()))
		}
	}
	logger.From(ctx).Info("call queued",
		slog.String("call_id", c.ID),
		slog.String("job_id", c.JobID),
		slog.Int("priority", c.Priority),
	)
	return Receipt{CallID: c.ID, JobID: c.JobID, Status: StatusQueued, ToNumber: c.ToNumber, FromNumber: c.FromNumber}, nil
}

// SubmitBatch rejects the whole batch when it is empty or above MaxBatchSize.
// Otherwise each item is validated, created and enqueued on its own; failures are skipped.
func (s *Service) SubmitBatch(ctx context.Context, reqs []Request, actor string) (BatchResult, error) {
	if len(reqs) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	if len(reqs) > MaxBatchSize {
		return BatchResult{}, fmt.Errorf("%w: %d items, max %d", ErrBatchTooLarge, len(reqs), MaxBatchSize)
	}

	log := logger.From(ctx)
	res := BatchResult{Total: len(reqs), CallIDs: []string{}}
	for i, r := range reqs {
		r, err := Validate(r)
		if err != nil {
			log.Debug("batch item rejected", slog.Int("index", i), slog.String("error", err.Error()))
			res.Skipped++
			continue
		}
		rcpt, err := s.submit(ctx, r, actor)
		if err != nil {
			log.Warn("batch item not queued", slog.Int("index", i), slog.String("error", err.Error()))
			res.Skipped++
			continue
		}
		res.Queued++
		if len(res.CallIDs) < 10 {
			res.CallIDs = append(res.CallIDs, rcpt.CallID)
		}
	}
	return res, nil
}

// Status never blocks on the pipeline.
func (s *Service) Status(ctx context.Context, callID string) (Status, error) {
	c, err := s.calls.Get(ctx, callID)
	if err != nil {
		return Status{}, err
	}
	out := Status{Call: c, JobStatus: queue.StateUnknown}
	if c.JobID != "" {
		st, err := s.queue.State(ctx, c.JobID)
		if err != nil {
			logger.From(ctx).Warn("job state lookup failed", slog.String("job_id", c.JobID), slog.String("error", err.Error()))
		} else {
			out.JobStatus = st
		}
	}
	if s.audit != nil {
		events, err := s.audit.History(ctx, callID)
		if err != nil {
			logger.From(ctx).Warn("call history lookup failed", slog.String("error", err.Error()))
		} else {
			out.Events = events
		}
	}
	return out, nil
}
