package flushqueues

import (
	"container/heap"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Item is an element orderable by PriorityQueue: higher Priority dequeues
// first.
type Item interface {
	Priority() int64
	Key() string
}

// PriorityQueue is a blocking, generic max-priority queue. Dequeue blocks
// until an item is available or the queue is closed, at which point it
// returns the zero value of T.
type PriorityQueue[T Item] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  itemHeap[T]
	closed bool
	gauge  prometheus.Gauge
}

// NewPriorityQueue returns an empty PriorityQueue. gauge, if non-nil, is
// kept equal to the queue's current length.
func NewPriorityQueue[T Item](gauge prometheus.Gauge) *PriorityQueue[T] {
	q := &PriorityQueue[T]{gauge: gauge}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue pushes item onto the queue, waking one blocked Dequeue if any.
func (q *PriorityQueue[T]) Enqueue(item T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrEnqueueOnClosed
	}
	heap.Push(&q.items, item)
	if q.gauge != nil {
		q.gauge.Inc()
	}
	q.cond.Signal()
	return true, nil
}

// Dequeue blocks until an item is available and returns the
// highest-priority one, or returns the zero value of T once the queue
// has been closed and drained.
func (q *PriorityQueue[T]) Dequeue() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero
	}
	item := heap.Pop(&q.items).(T)
	if q.gauge != nil {
		q.gauge.Dec()
	}
	return item
}

// Length returns the number of items currently queued.
func (q *PriorityQueue[T]) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes every blocked Dequeue; it does
// not discard already-queued items, which remain dequeueable until
// drained.
func (q *PriorityQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// itemHeap implements container/heap.Interface as a max-heap on Priority.
type itemHeap[T Item] []T

func (h itemHeap[T]) Len() int            { return len(h) }
func (h itemHeap[T]) Less(i, j int) bool  { return h[i].Priority() > h[j].Priority() }
func (h itemHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap[T]) Push(x interface{}) { *h = append(*h, x.(T)) }
func (h *itemHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
