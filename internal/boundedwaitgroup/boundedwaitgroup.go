// Package boundedwaitgroup provides a sync.WaitGroup variant that caps the
// number of concurrently outstanding goroutines.
package boundedwaitgroup

import "sync"

// BoundedWaitGroup behaves like sync.WaitGroup except that Add blocks once
// capacity outstanding Add calls have not yet been matched by Done. The loop
// pool uses it to fan a shutdown task out to every registered loop without
// spawning unbounded goroutines.
type BoundedWaitGroup struct {
	wg sync.WaitGroup
	ch chan struct{}
}

// New returns a BoundedWaitGroup that allows at most capacity outstanding
// Add calls. It panics if capacity is zero.
func New(capacity uint) BoundedWaitGroup {
	if capacity == 0 {
		panic("boundedwaitgroup: capacity must be > 0")
	}
	return BoundedWaitGroup{ch: make(chan struct{}, capacity)}
}

// Add reserves a slot, blocking while capacity is exhausted.
func (bg *BoundedWaitGroup) Add(delta int) {
	for i := 0; i < delta; i++ {
		bg.ch <- struct{}{}
	}
	bg.wg.Add(delta)
}

// Done releases a slot reserved by Add.
func (bg *BoundedWaitGroup) Done() {
	<-bg.ch
	bg.wg.Done()
}

// Wait blocks until every reserved slot has been released.
func (bg *BoundedWaitGroup) Wait() {
	bg.wg.Wait()
}
