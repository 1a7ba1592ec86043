// Package flushqueues provides an optional per-channel write-reordering
// stage that can sit in front of the core flush.Notifier: ExclusiveQueues
// coalesces same-key writes so at most one value per key is queued or in
// flight (a later value for a key already tracked is dropped), and
// PriorityQueue orders arbitrary items by priority instead
// of strict FIFO. Neither replaces flush.Notifier's FIFO checkpoint
// ordering guarantee (spec.md §4.5); they are upstream shaping layers a
// handler may choose to use before handing bytes to the channel.
package flushqueues

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrEnqueueOnClosed is returned by Enqueue and Requeue once Stop has been
// called.
var ErrEnqueueOnClosed = errors.New("enqueue on closed queue")

// Op is an item that can live in an ExclusiveQueues instance. Key
// identifies the slot it occupies; re-enqueuing the same Key while the
// previous value is still queued or in flight is a no-op.
type Op interface {
	Key() string
}

// ExclusiveQueues partitions items across a fixed number of independent
// FIFO queues, deduplicating by Key: enqueuing a key that is already
// queued or has been dequeued-but-not-cleared is a no-op. Callers
// typically run one consumer goroutine per queue index, calling Dequeue
// in a loop and Clear once the dequeued item's work has completed.
type ExclusiveQueues struct {
	mu     sync.Mutex
	queues [][]Op
	tracked map[string]int
	next   int
	closed bool
	gauge  prometheus.Gauge
}

// New returns an ExclusiveQueues with numQueues independent FIFOs. gauge,
// if non-nil, is kept equal to the total number of currently-queued
// (not yet dequeued) items.
func New(numQueues int, gauge prometheus.Gauge) *ExclusiveQueues {
	if numQueues <= 0 {
		numQueues = 1
	}
	return &ExclusiveQueues{
		queues:  make([][]Op, numQueues),
		tracked: make(map[string]int),
		gauge:   gauge,
	}
}

// Enqueue adds op to the queue selected by round-robin assignment, unless
// op's key is already tracked (queued or dequeued-but-not-cleared), in
// which case it is silently dropped.
func (q *ExclusiveQueues) Enqueue(op Op) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrEnqueueOnClosed
	}
	key := op.Key()
	if _, ok := q.tracked[key]; ok {
		return nil
	}

	idx := q.next % len(q.queues)
	q.next++
	q.tracked[key] = idx
	q.queues[idx] = append(q.queues[idx], op)
	q.incGauge()
	return nil
}

// Requeue pushes op back onto the queue it was last tracked under
// (typically after a failed Dequeue attempt), regardless of whether a
// Dequeue for it is still outstanding. If op's key isn't tracked at all
// it behaves like a fresh Enqueue.
func (q *ExclusiveQueues) Requeue(op Op) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrEnqueueOnClosed
	}
	key := op.Key()
	idx, ok := q.tracked[key]
	if !ok {
		idx = q.next % len(q.queues)
		q.next++
		q.tracked[key] = idx
	}
	q.queues[idx] = append(q.queues[idx], op)
	q.incGauge()
	return nil
}

// Dequeue removes and returns the oldest item from queue index idx,
// waiting while that queue is empty; it returns nil once Stop has been
// called and the queue is drained. The item's key remains tracked until
// Clear is called, so a concurrent Enqueue for the same key is held off
// until then.
func (q *ExclusiveQueues) Dequeue(idx int) Op {
	for {
		q.mu.Lock()
		items := q.queues[idx]
		if len(items) > 0 {
			op := items[0]
			q.queues[idx] = items[1:]
			q.decGauge()
			q.mu.Unlock()
			return op
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

// Clear forgets op's key, allowing a future Enqueue for the same key to
// succeed. Call it once the work dequeued for op has completed.
func (q *ExclusiveQueues) Clear(op Op) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tracked, op.Key())
}

// Stop marks the queues closed; subsequent Enqueue/Requeue calls fail
// with ErrEnqueueOnClosed. Already-queued items remain available via
// Dequeue.
func (q *ExclusiveQueues) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// IsEmpty reports whether every queue is currently empty.
func (q *ExclusiveQueues) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, items := range q.queues {
		if len(items) > 0 {
			return false
		}
	}
	return true
}

func (q *ExclusiveQueues) incGauge() {
	if q.gauge != nil {
		q.gauge.Inc()
	}
}

func (q *ExclusiveQueues) decGauge() {
	if q.gauge != nil {
		q.gauge.Dec()
	}
}
