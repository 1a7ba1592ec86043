package allocator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// arena owns a growable set of chunks plus the tiny/small subpage pools
// that donate pages from those chunks. Each allocate() call on an
// Allocator is routed to exactly one arena; an arena's internal
// structures are safe for concurrent use by the loops bound to it.
type arena struct {
	mu         sync.Mutex
	chunks     []*chunk
	tinyPools  [numTinyClasses]*subpagePool
	smallPools []*subpagePool
	chunkGauge prometheus.Gauge
}

func newArena(chunkGauge prometheus.Gauge) *arena {
	a := &arena{
		smallPools: make([]*subpagePool, len(smallClassSizes)),
		chunkGauge: chunkGauge,
	}
	for i := range a.tinyPools {
		a.tinyPools[i] = newSubpagePool((i + 1) * tinyIncrement)
	}
	for i, sz := range smallClassSizes {
		a.smallPools[i] = newSubpagePool(sz)
	}
	return a
}

// allocSubpage serves a tiny or small request of slotSize bytes from
// pool, donating a fresh page from some chunk if every existing page in
// pool is full.
func (a *arena) allocSubpage(pool *subpagePool, slotSize int) (*subpage, []byte, int, error) {
	if sp, mem, slot := pool.take(); sp != nil {
		return sp, mem, slot, nil
	}

	c, page, mem, err := a.allocPage()
	if err != nil {
		return nil, nil, -1, err
	}
	sp := newSubpage(c, page, mem, slotSize)
	pool.addPage(sp)
	mem2, slot := sp.take()
	return sp, mem2, slot, nil
}

// allocPage reserves a single order-0 page from some chunk, creating a
// new chunk if every existing one is full.
func (a *arena) allocPage() (*chunk, int, []byte, error) {
	return a.allocOrder(0)
}

// allocOrder reserves a block of 1<<order pages from some chunk,
// creating a new chunk if no existing one has room.
func (a *arena) allocOrder(order int) (*chunk, int, []byte, error) {
	a.mu.Lock()
	candidates := make([]*chunk, 0, len(a.chunks))
	for _, c := range a.chunks {
		if !c.full() {
			candidates = append(candidates, c)
		}
	}
	a.mu.Unlock()

	for _, c := range candidates {
		if mem, page, err := c.allocOrder(order); err == nil {
			return c, page, mem, nil
		}
	}

	c := newChunk()
	mem, page, err := c.allocOrder(order)
	if err != nil {
		return nil, 0, nil, err
	}

	a.mu.Lock()
	a.chunks = append(a.chunks, c)
	n := len(a.chunks)
	a.mu.Unlock()
	if a.chunkGauge != nil {
		a.chunkGauge.Set(float64(n))
	}

	return c, page, mem, nil
}
