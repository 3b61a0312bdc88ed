package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue mirrors RedisQueue semantics in process. Used by tests and local runs.
type MemoryQueue struct {
	mu         sync.Mutex
	visibility time.Duration
	clock      func() time.Time

	ready    []memEntry
	inflight map[string]time.Time
	jobs     map[string]*memJob
}

type memEntry struct {
	id    string
	score float64
}

type memJob struct {
	job      Job
	state    State
	attempts int
	score    float64
}

func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{
		visibility: visibility,
		clock:      time.Now,
		inflight:   map[string]time.Time{},
		jobs:       map[string]*memJob{},
	}
}

// SetClock replaces the time source. Tests only.
func (q *MemoryQueue) SetClock(fn func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clock = fn
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(_ context.Context, j Job) error {
	if err := validate(j); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	s := score(j.Priority, q.clock())
	q.jobs[j.ID] = &memJob{job: j, state: StateQueued, score: s}
	q.push(memEntry{id: j.ID, score: s})
	return nil
}

func (q *MemoryQueue) push(e memEntry) {
	q.ready = append(q.ready, e)
	sort.SliceStable(q.ready, func(a, b int) bool { return q.ready[a].score < q.ready[b].score })
}

func (q *MemoryQueue) Ready(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), nil
}

func (q *MemoryQueue) Reserve(ctx context.Context) (Delivery, bool, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return Delivery{}, false, nil
	}
	e := q.ready[0]
	q.ready = q.ready[1:]
	q.inflight[e.id] = q.clock().Add(q.visibility)

	mj := q.jobs[e.id]
	mj.state = StateStarted
	mj.attempts++
	return Delivery{Job: mj.job, Attempt: mj.attempts}, true, nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string, final State) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, jobID)
	if mj, ok := q.jobs[jobID]; ok && final != "" {
		mj.state = final
	}
	return nil
}

func (q *MemoryQueue) RequeueExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()
	n := 0
	for id, deadline := range q.inflight {
		if deadline.After(now) {
			continue
		}
		delete(q.inflight, id)
		n++
		if mj, ok := q.jobs[id]; ok {
			mj.state = StateRetry
			q.push(memEntry{id: id, score: mj.score})
		}
	}
	return n, nil
}

func (q *MemoryQueue) State(_ context.Context, jobID string) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if mj, ok := q.jobs[jobID]; ok {
		return mj.state, nil
	}
	return StateUnknown, nil
}

// Len reports ready plus in-flight jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.inflight)
}
