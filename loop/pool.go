package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"go.uber.org/atomic"

	"github.com/nt-core/netgo/internal/boundedwaitgroup"
)

// Pool owns a fixed set of Loops and hands each newly registered
// Channel one of them, round robin, so a busy Channel never starves
// another on the same goroutine.
type Pool struct {
	loops []*Loop
	next  *atomic.Uint32

	shutdownFanOut uint
}

// NewPool starts size Loops. shutdownFanOut bounds how many Loops are
// stopped concurrently by Shutdown.
func NewPool(size int, shutdownFanOut uint, logger log.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	if shutdownFanOut == 0 {
		shutdownFanOut = uint(size)
	}

	p := &Pool{
		loops:          make([]*Loop, size),
		next:           atomic.NewUint32(0),
		shutdownFanOut: shutdownFanOut,
	}
	for i := range p.loops {
		l, err := New(log.With(logger, "loop", i))
		if err != nil {
			p.closePartial(i)
			return nil, fmt.Errorf("loop pool: starting loop %d: %w", i, err)
		}
		if err := l.Service.StartAsync(context.Background()); err != nil {
			p.closePartial(i)
			return nil, fmt.Errorf("loop pool: starting loop %d service: %w", i, err)
		}
		p.loops[i] = l
	}
	return p, nil
}

func (p *Pool) closePartial(n int) {
	for i := 0; i < n; i++ {
		p.loops[i].stopping(nil)
	}
}

// Next returns the next Loop in round-robin order, used to bind a
// newly created Channel to exactly one Loop for its lifetime.
func (p *Pool) Next() *Loop {
	n := p.next.Inc()
	return p.loops[int(n)%len(p.loops)]
}

// Size returns the number of Loops in the pool.
func (p *Pool) Size() int { return len(p.loops) }

// Shutdown stops every Loop, at most shutdownFanOut concurrently, waits
// for all of them to finish, and reports the first error any of them
// returned while terminating.
func (p *Pool) Shutdown() error {
	bwg := boundedwaitgroup.New(p.shutdownFanOut)
	var mu sync.Mutex
	var firstErr error

	for _, l := range p.loops {
		l := l
		bwg.Add(1)
		go func() {
			defer bwg.Done()
			l.Service.StopAsync()
			if err := l.Service.AwaitTerminated(context.Background()); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	bwg.Wait()
	return firstErr
}
