package calls

import (
	"context"
	"time"
)

// Repository is the durable Call store.
//
// MarkProcessing, Complete and Fail are compare-and-set operations: they succeed only
// when the stored status is the expected predecessor, so concurrent workers racing on
// the same call observe exactly one winner.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)

	// MarkProcessing moves a pending call to processing and stamps startedAt.
	// won is false (and err nil) when the call was no longer pending; the returned
	// Call then reflects the stored state.
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (c Call, won bool, err error)

	// Complete and Fail require the call to be processing. Otherwise they return
	// ErrInvalidTransition and leave the row untouched.
	Complete(ctx context.Context, id string, done Completion) error
	Fail(ctx context.Context, id string, message string, completedAt time.Time) error

	Summary(ctx context.Context) (Summary, error)
}
