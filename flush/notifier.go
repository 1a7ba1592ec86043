// Package flush implements the Flush Notifier: the ordering primitive
// that resolves write promises in strict FIFO order as a channel's
// cumulative flushed-byte count advances past each write's checkpoint.
package flush

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// rebaseThreshold is the writeCounter value at which Increase rebases
// every stored checkpoint back toward zero, keeping the arithmetic far
// from uint64 overflow.
const rebaseThreshold = 1 << 60

type entry struct {
	checkpoint uint64
	promise    *Promise
}

// Notifier tracks one channel's cumulative flushed-byte counter and a
// FIFO queue of (checkpoint, promise) pairs, resolving promises as the
// counter passes their checkpoint. Not safe for concurrent Add/Increase
// calls from multiple goroutines without external serialization beyond
// what its own mutex provides for internal consistency — callers are
// expected to be the single owning loop, per spec.md §5.
type Notifier struct {
	mu           sync.Mutex
	writeCounter uint64
	queue        []entry
	notifying    bool
	pendingGauge prometheus.Gauge
}

// New returns an empty Notifier. gauge, if non-nil, is kept equal to
// the number of promises currently pending resolution.
func New(gauge prometheus.Gauge) *Notifier {
	return &Notifier{pendingGauge: gauge}
}

// Add enqueues promise with checkpoint = current writeCounter +
// pendingSize, the byte offset past which it becomes resolvable.
func (n *Notifier) Add(promise *Promise, pendingSize uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.queue = append(n.queue, entry{
		checkpoint: n.writeCounter + pendingSize,
		promise:    promise,
	})
	if n.pendingGauge != nil {
		n.pendingGauge.Inc()
	}
}

// Increase advances writeCounter by delta newly flushed bytes and
// rebases the counter and every stored checkpoint once it reaches
// rebaseThreshold.
func (n *Notifier) Increase(delta uint64) {
	n.mu.Lock()
	n.writeCounter += delta
	if n.writeCounter >= rebaseThreshold {
		n.rebaseLocked()
	}
	n.mu.Unlock()
}

func (n *Notifier) rebaseLocked() {
	for i := range n.queue {
		if n.queue[i].checkpoint <= n.writeCounter {
			n.queue[i].checkpoint = 0
		} else {
			n.queue[i].checkpoint -= n.writeCounter
		}
	}
	n.writeCounter = 0
}

// WriteCounter reports the current cumulative flushed-byte count.
func (n *Notifier) WriteCounter() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writeCounter
}

// Pending reports how many promises are still queued.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// NotifySuccess succeeds every head entry whose checkpoint has been
// passed by writeCounter, in FIFO order. Re-entrant calls — e.g. from
// within a promise listener invoked by this very call — are dropped
// rather than recursing; the caller is expected to be a loop that will
// naturally revisit NotifySuccess on its next turn.
func (n *Notifier) NotifySuccess() {
	n.mu.Lock()
	if n.notifying {
		n.mu.Unlock()
		return
	}
	n.notifying = true

	var resolved []*Promise
	for len(n.queue) > 0 && n.queue[0].checkpoint <= n.writeCounter {
		resolved = append(resolved, n.queue[0].promise)
		n.queue = n.queue[1:]
		if n.pendingGauge != nil {
			n.pendingGauge.Dec()
		}
	}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.notifying = false
		n.mu.Unlock()
	}()
	for _, p := range resolved {
		if p != nil {
			p.Succeed()
		}
	}
}

// NotifyFailure succeeds every entry whose checkpoint has already been
// passed, then fails every remaining entry with cause, draining the
// queue entirely.
func (n *Notifier) NotifyFailure(cause error) {
	n.notifyFailure(cause, cause)
}

// NotifyFailureCause is the two-cause variant: entries already past
// their checkpoint succeed as usual; the first not-yet-due entry (the
// write that was in flight when the failure occurred) fails with
// headCause, and every entry behind it fails with restCause.
func (n *Notifier) NotifyFailureCause(headCause, restCause error) {
	n.notifyFailure(headCause, restCause)
}

func (n *Notifier) notifyFailure(headCause, restCause error) {
	n.mu.Lock()
	var succeeded []*Promise
	for len(n.queue) > 0 && n.queue[0].checkpoint <= n.writeCounter {
		succeeded = append(succeeded, n.queue[0].promise)
		n.queue = n.queue[1:]
	}

	var head *Promise
	if len(n.queue) > 0 {
		head = n.queue[0].promise
		n.queue = n.queue[1:]
	}
	rest := make([]*Promise, len(n.queue))
	for i, e := range n.queue {
		rest[i] = e.promise
	}
	n.queue = nil
	if n.pendingGauge != nil {
		n.pendingGauge.Set(0)
	}
	n.mu.Unlock()

	for _, p := range succeeded {
		if p != nil {
			p.Succeed()
		}
	}
	if head != nil {
		head.Fail(headCause)
	}
	for _, p := range rest {
		if p != nil {
			p.Fail(restCause)
		}
	}
}
