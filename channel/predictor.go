package channel

import "github.com/nt-core/netgo/internal/ratelimit"

// receiveBufferPredictor sizes the next receive buffer from how full
// the previous one ended up: a read that filled the buffer suggests
// there's more waiting, so the next guess doubles; a read that left
// the buffer mostly empty suggests the guess was too generous, so it
// halves. Bounded on both ends so a single burst or a single idle
// connection can't run the guess to zero or to an unbounded allocation.
// Doubling is additionally paced by a GrowthLimiter, so one connection
// reading full buffers back-to-back can't keep escalating its guess
// (and the allocator pressure that comes with it) without bound.
type receiveBufferPredictor struct {
	min, max int
	current  int
	limiter  *ratelimit.GrowthLimiter
}

const (
	defaultPredictorMin     = 64
	defaultPredictorMax     = 64 * 1024
	defaultPredictorInitial = 2048
)

func newReceiveBufferPredictor() *receiveBufferPredictor {
	return &receiveBufferPredictor{
		min:     defaultPredictorMin,
		max:     defaultPredictorMax,
		current: defaultPredictorInitial,
		limiter: ratelimit.NewDefaultGrowthLimiter(),
	}
}

// nextCapacity returns the size to allocate for the next receive
// buffer.
func (p *receiveBufferPredictor) nextCapacity() int {
	return p.current
}

// record adjusts the guess after a read of n bytes into a buffer of
// capacity cap. A full read doubles the guess (more data is likely
// still waiting); a read under a quarter full halves it.
func (p *receiveBufferPredictor) record(n, capacity int) {
	switch {
	case n >= capacity:
		if p.limiter.AllowGrowth() {
			p.current *= 2
		}
	case n < capacity/4:
		p.current /= 2
	}
	if p.current < p.min {
		p.current = p.min
	}
	if p.current > p.max {
		p.current = p.max
	}
}
