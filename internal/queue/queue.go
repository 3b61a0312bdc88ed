// Package queue delivers call jobs to workers at least once.
//
// A reserved job stays in flight until it is acked. Jobs whose visibility
// deadline passes without an ack are put back by RequeueExpired, so a crashed
// worker never loses a call; the pickup guard in the calls store makes the
// duplicate delivery harmless.
package queue

import (
	"context"
	"errors"
	"time"
)

type State string

const (
	StateQueued    State = "queued"
	StateStarted   State = "started"
	StateRetry     State = "retry"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateUnknown   State = "unknown"
)

type Job struct {
	ID       string `json:"job_id"`
	CallID   string `json:"call_id"`
	Priority int    `json:"priority"`
}

type Delivery struct {
	Job Job
	// Attempt is 1 on first delivery and grows with each redelivery.
	Attempt int
}

type Queue interface {
	Enqueue(ctx context.Context, j Job) error

	// Ready counts jobs waiting to be reserved.
	Ready(ctx context.Context) (int, error)

	// Reserve takes the next ready job. ok is false when nothing is ready.
	Reserve(ctx context.Context) (d Delivery, ok bool, err error)

	// Ack removes a job from flight. An empty final state leaves the recorded state untouched.
	Ack(ctx context.Context, jobID string, final State) error

	// RequeueExpired returns in-flight jobs past their visibility deadline to the ready set.
	RequeueExpired(ctx context.Context) (int, error)

	State(ctx context.Context, jobID string) (State, error)
}

var ErrInvalidJob = errors.New("queue: invalid job")

// score orders by priority first, then enqueue time.
func score(priority int, at time.Time) float64 {
	if priority < 1 || priority > 3 {
		priority = 1
	}
	return float64(priority)*1e13 + float64(at.UnixMilli())
}

func validate(j Job) error {
	if j.ID == "" || j.CallID == "" {
		return ErrInvalidJob
	}
	return nil
}
