package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newRedisQueue(t *testing.T, clk *fakeClock) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewRedisQueue(rdb, time.Minute, WithPrefix("test"))
	q.clock = clk.Now
	return q
}

func newMemoryQueue(clk *fakeClock) *MemoryQueue {
	q := NewMemoryQueue(time.Minute)
	q.SetClock(clk.Now)
	return q
}

// Both implementations must behave the same.
func forEachQueue(t *testing.T, fn func(t *testing.T, q Queue, clk *fakeClock)) {
	t.Run("redis", func(t *testing.T) {
		clk := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
		fn(t, newRedisQueue(t, clk), clk)
	})
	t.Run("memory", func(t *testing.T) {
		clk := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
		fn(t, newMemoryQueue(clk), clk)
	})
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue, clk *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, Job{ID: "low", CallID: "c-low", Priority: 3}))
		clk.Advance(time.Millisecond)
		require.NoError(t, q.Enqueue(ctx, Job{ID: "high-1", CallID: "c-h1", Priority: 1}))
		clk.Advance(time.Millisecond)
		require.NoError(t, q.Enqueue(ctx, Job{ID: "high-2", CallID: "c-h2", Priority: 1}))

		var order []string
		for {
			d, ok, err := q.Reserve(ctx)
			require.NoError(t, err)
			if !ok {
				break
			}
			order = append(order, d.Job.ID)
		}
		assert.Equal(t, []string{"high-1", "high-2", "low"}, order)
	})
}

func TestQueue_ReserveReturnsJobFields(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, Job{ID: "j1", CallID: "c1", Priority: 2}))

		st, err := q.State(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, StateQueued, st)

		d, ok, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Job{ID: "j1", CallID: "c1", Priority: 2}, d.Job)
		assert.Equal(t, 1, d.Attempt)

		st, _ = q.State(ctx, "j1")
		assert.Equal(t, StateStarted, st)
	})
}

func TestQueue_UnackedJobIsRedelivered(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue, clk *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, Job{ID: "j1", CallID: "c1", Priority: 1}))
		_, ok, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		ready, err := q.Ready(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, ready, "in-flight jobs are not ready")

		n, err := q.RequeueExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "not yet past visibility")

		clk.Advance(2 * time.Minute)
		n, err = q.RequeueExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		ready, err = q.Ready(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, ready)

		st, _ := q.State(ctx, "j1")
		assert.Equal(t, StateRetry, st)

		d, ok, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "j1", d.Job.ID)
		assert.Equal(t, 2, d.Attempt)
	})
}

func TestQueue_AckedJobIsNotRedelivered(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue, clk *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, Job{ID: "j1", CallID: "c1", Priority: 1}))
		_, _, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, "j1", StateSucceeded))

		clk.Advance(time.Hour)
		n, err := q.RequeueExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, ok, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		st, _ := q.State(ctx, "j1")
		assert.Equal(t, StateSucceeded, st)
	})
}

func TestQueue_AckWithoutStateKeepsState(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, Job{ID: "j1", CallID: "c1", Priority: 1}))
		_, _, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, "j1", ""))

		st, _ := q.State(ctx, "j1")
		assert.Equal(t, StateStarted, st)
	})
}

func TestQueue_RejectsInvalidJobAndUnknownState(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		require.ErrorIs(t, q.Enqueue(ctx, Job{ID: "j1"}), ErrInvalidJob)
		st, err := q.State(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, StateUnknown, st)
	})
}

func TestTrunkLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	if _, ok := NewTrunkLimiter(rdb, 0, time.Minute).(Unlimited); !ok {
		t.Fatalf("expected Unlimited for zero limit")
	}

	l := NewTrunkLimiter(rdb, 1, time.Minute)
	ok, err := l.Acquire(ctx, "w-1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.Acquire(ctx, "w-2")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, l.Release(ctx, "w-1"))
	ok, err = l.Acquire(ctx, "w-2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTrunkLimiter_CrashedHolderExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	clk := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	l := NewTrunkLimiter(rdb, 1, time.Minute).(*TrunkLimiter)
	l.clock = clk.Now

	ok, err := l.Acquire(ctx, "crashed")
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(30 * time.Second)
	ok, err = l.Acquire(ctx, "w-2")
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(31 * time.Second)
	ok, err = l.Acquire(ctx, "w-2")
	require.NoError(t, err)
	assert.True(t, ok)
}
