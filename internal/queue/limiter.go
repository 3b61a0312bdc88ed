package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"voicecall-platform/pkg/utils"
)

// Limiter caps how many calls are on the SIP trunk at once across all workers.
// holder identifies the worker loop taking the slot.
type Limiter interface {
	Acquire(ctx context.Context, holder string) (bool, error)
	Release(ctx context.Context, holder string) error
}

// Unlimited never refuses a slot.
type Unlimited struct{}

func (Unlimited) Acquire(context.Context, string) (bool, error) { return true, nil }
func (Unlimited) Release(context.Context, string) error         { return nil }

// TrunkLimiter keeps one expiring slot per holder in a Redis sorted set shared
// by every worker process.
type TrunkLimiter struct {
	rdb   redis.Scripter
	key   string
	limit int
	ttl   time.Duration
	clock func() time.Time
}

// NewTrunkLimiter returns Unlimited when limit is 0. ttl should cover the longest job
// so a slot leaked by a crashed worker is reclaimed.
func NewTrunkLimiter(rdb redis.Scripter, limit int, ttl time.Duration) Limiter {
	if limit <= 0 {
		return Unlimited{}
	}
	return &TrunkLimiter{rdb: rdb, key: "voicecall:trunk:slots", limit: limit, ttl: ttl, clock: time.Now}
}

func (l *TrunkLimiter) Acquire(ctx context.Context, holder string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, holder, l.limit, l.ttl, l.clock())
}

func (l *TrunkLimiter) Release(ctx context.Context, holder string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key, holder)
}
