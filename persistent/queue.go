package persistent

import (
	"sync/atomic"

	"code.hybscloud.com/lfq"
)

// A task is one unit of persistent work: either a ranged body or a marker
// that completes when the kernel reaches it.
type task struct {
	begin, end int
	body       func(i int)
	marker     *Marker
}

// empty reports whether t carries no work.  The queue may hand out such a
// task for a position a producer abandoned.
func (t task) empty() bool {
	return t.body == nil && t.marker == nil
}

// queue is the engine's bounded work queue: many producers, one consumer.
type queue struct {
	q       *lfq.MPSC[task]
	pending atomic.Int64 // Tasks enqueued and not yet dequeued
}

// newQueue creates a queue holding at least capacity tasks.
func newQueue(capacity int) *queue {
	if capacity < 2 {
		capacity = 2
	}
	return &queue{q: lfq.NewMPSC[task](capacity)}
}

// capacity returns the number of tasks the queue holds.
func (q *queue) capacity() int {
	return q.q.Cap()
}

// tryPush enqueues t, or reports false if the queue is full.
func (q *queue) tryPush(t task) bool {
	q.pending.Add(1)
	if err := q.q.Enqueue(&t); err != nil {
		q.pending.Add(-1)
		return false
	}
	return true
}

// tryPop dequeues the oldest task, or reports false if the queue is empty.
func (q *queue) tryPop() (task, bool) {
	for {
		t, err := q.q.Dequeue()
		if err != nil {
			return task{}, false
		}
		if t.empty() {
			continue
		}
		q.pending.Add(-1)
		return t, true
	}
}

// len returns an instantaneous estimate of the number of queued tasks.
func (q *queue) len() int {
	return int(max(q.pending.Load(), 0))
}
