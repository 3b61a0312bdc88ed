package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps ready jobs in a sorted set, in-flight jobs in a second sorted
// set scored by visibility deadline, and per-job state in a hash.
type RedisQueue struct {
	rdb        redis.UniversalClient
	prefix     string
	visibility time.Duration
	resultTTL  time.Duration
	clock      func() time.Time
}

type RedisOption func(*RedisQueue)

func WithPrefix(p string) RedisOption { return func(q *RedisQueue) { q.prefix = p } }

func WithResultTTL(d time.Duration) RedisOption { return func(q *RedisQueue) { q.resultTTL = d } }

func NewRedisQueue(rdb redis.UniversalClient, visibility time.Duration, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		rdb:        rdb,
		prefix:     "voicecall:queue",
		visibility: visibility,
		resultTTL:  24 * time.Hour,
		clock:      time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) readyKey() string    { return q.prefix + ":ready" }
func (q *RedisQueue) inflightKey() string { return q.prefix + ":inflight" }
func (q *RedisQueue) jobPrefix() string   { return q.prefix + ":job:" }
func (q *RedisQueue) jobKey(id string) string {
	return q.jobPrefix() + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, j Job) error {
	if err := validate(j); err != nil {
		return err
	}
	s := score(j.Priority, q.clock())
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(j.ID),
			"call_id", j.CallID,
			"priority", j.Priority,
			"state", string(StateQueued),
			"attempts", 0,
			"score", strconv.FormatFloat(s, 'f', -1, 64),
		)
		p.ZAdd(ctx, q.readyKey(), redis.Z{Score: s, Member: j.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", j.ID, err)
	}
	return nil
}

var reserveScript = redis.NewScript(`
-- KEYS[1] = ready set, KEYS[2] = inflight set
-- ARGV[1] = visibility deadline (ms), ARGV[2] = job key prefix
local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[1], id)
local jk = ARGV[2] .. id
redis.call('HSET', jk, 'state', 'started')
local attempts = redis.call('HINCRBY', jk, 'attempts', 1)
local callID = redis.call('HGET', jk, 'call_id') or ''
local prio = redis.call('HGET', jk, 'priority') or '1'
return {id, callID, prio, attempts}
`)

func (q *RedisQueue) Ready(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: ready: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Reserve(ctx context.Context) (Delivery, bool, error) {
	deadline := q.clock().Add(q.visibility).UnixMilli()
	res, err := reserveScript.Run(ctx, q.rdb, []string{q.readyKey(), q.inflightKey()}, deadline, q.jobPrefix()).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Delivery{}, false, nil
		}
		return Delivery{}, false, fmt.Errorf("queue: reserve: %w", err)
	}
	if len(res) != 4 {
		return Delivery{}, false, fmt.Errorf("queue: reserve: unexpected reply %v", res)
	}

	id, _ := res[0].(string)
	callID, _ := res[1].(string)
	prio, _ := strconv.Atoi(fmt.Sprint(res[2]))
	attempts, _ := res[3].(int64)
	return Delivery{
		Job:     Job{ID: id, CallID: callID, Priority: prio},
		Attempt: int(attempts),
	}, true, nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string, final State) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.inflightKey(), jobID)
		if final != "" {
			p.HSet(ctx, q.jobKey(jobID), "state", string(final))
			p.Expire(ctx, q.jobKey(jobID), q.resultTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: ack %s: %w", jobID, err)
	}
	return nil
}

var requeueScript = redis.NewScript(`
-- KEYS[1] = inflight set, KEYS[2] = ready set
-- ARGV[1] = now (ms), ARGV[2] = job key prefix
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local jk = ARGV[2] .. id
  local score = redis.call('HGET', jk, 'score')
  if score then
    redis.call('HSET', jk, 'state', 'retry')
    redis.call('ZADD', KEYS[2], score, id)
  end
end
return #ids
`)

func (q *RedisQueue) RequeueExpired(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, q.rdb, []string{q.inflightKey(), q.readyKey()}, q.clock().UnixMilli(), q.jobPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: requeue: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) State(ctx context.Context, jobID string) (State, error) {
	v, err := q.rdb.HGet(ctx, q.jobKey(jobID), "state").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StateUnknown, nil
		}
		return StateUnknown, fmt.Errorf("queue: state %s: %w", jobID, err)
	}
	return State(v), nil
}
