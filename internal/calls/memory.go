package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repository for tests and local runs.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}}
}

var _ Repository = (*MemoryRepo)(nil)

func (r *MemoryRepo) Create(_ context.Context, c Call) error {
	if c.ID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; ok {
		return ErrAlreadyExists
	}
	if c.Status == "" {
		c.Status = CallStatusPending
	}
	r.calls[c.ID] = copyCall(c)
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return copyCall(c), nil
}

func (r *MemoryRepo) MarkProcessing(_ context.Context, id string, startedAt time.Time) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if c.Status != CallStatusPending {
		return copyCall(c), false, nil
	}
	c.Status = CallStatusProcessing
	c.StartedAt = &startedAt
	r.calls[id] = c
	return copyCall(c), true, nil
}

func (r *MemoryRepo) Complete(_ context.Context, id string, done Completion) error {
	if !done.DialMode.Valid() {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(c.Status, CallStatusCompleted) {
		return ErrInvalidTransition
	}
	c.Status = CallStatusCompleted
	c.AudioFilePath = done.AudioFilePath
	c.DialMode = done.DialMode
	d := done.DurationSeconds
	c.DurationSeconds = &d
	at := done.CompletedAt
	c.CompletedAt = &at
	r.calls[id] = c
	return nil
}

func (r *MemoryRepo) Fail(_ context.Context, id string, message string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(c.Status, CallStatusFailed) {
		return ErrInvalidTransition
	}
	c.Status = CallStatusFailed
	c.ErrorMessage = message
	c.CompletedAt = &completedAt
	r.calls[id] = c
	return nil
}

func (r *MemoryRepo) Summary(_ context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{ByStatus: map[CallStatus]int{}}
	for _, c := range r.calls {
		s.ByStatus[c.Status]++
		if c.Status == CallStatusCompleted && c.DialMode == DialModeSimulated {
			s.Simulated++
		}
	}
	return s, nil
}

func copyCall(c Call) Call {
	out := c
	if c.StartedAt != nil {
		t := *c.StartedAt
		out.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	return out
}
