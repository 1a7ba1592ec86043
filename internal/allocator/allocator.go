package allocator

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

// DefaultMaxCapacity bounds how far EnsureWritable/Reallocate will grow a
// Buffer when the caller didn't ask for a smaller ceiling.
const DefaultMaxCapacity = 64 * 1024 * 1024

var (
	metricChunks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netgo",
		Subsystem: "allocator",
		Name:      "chunks",
		Help:      "Number of 16 MiB chunks currently held open by an arena.",
	}, []string{"arena"})

	metricUnpooledBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netgo",
		Subsystem: "allocator",
		Name:      "unpooled_bytes_total",
		Help:      "Total bytes ever allocated outside the arena pool (requests over half a chunk).",
	})
)

// Allocator is the pooled byte-buffer source every loop and channel
// allocates read/write buffers from. It owns a fixed set of arenas and
// spreads allocations across them round robin, so that concurrently
// running event loops rarely contend on the same arena's locks.
type Allocator struct {
	arenas []*arena
	next   *atomic.Uint32
}

// New creates an Allocator with numArenas arenas. A typical embedder
// sizes numArenas to its event-loop count, one arena per loop, so a
// loop's allocations almost never cross into another loop's arena.
func New(numArenas int) *Allocator {
	if numArenas < 1 {
		numArenas = 1
	}
	a := &Allocator{
		arenas: make([]*arena, numArenas),
		next:   atomic.NewUint32(0),
	}
	for i := range a.arenas {
		a.arenas[i] = newArena(metricChunks.WithLabelValues(fmt.Sprintf("%d", i)))
	}
	return a
}

func (a *Allocator) pickArena() *arena {
	n := a.next.Inc()
	return a.arenas[int(n)%len(a.arenas)]
}

// pickArenaForKey deterministically maps key (typically a Loop's ID)
// onto one of a's arenas via xxhash, so every allocation a given loop
// makes over its lifetime lands in the same arena instead of being
// spread round robin. That keeps a loop's buffers resident in one
// arena's chunks, avoiding cross-arena lock traffic when the loop is
// the only goroutine ever touching them.
func (a *Allocator) pickArenaForKey(key uint64) *arena {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	h := xxhash.Sum64(buf[:])
	return a.arenas[h%uint64(len(a.arenas))]
}

// Allocate reserves a Buffer of at least initialCapacity bytes, able to
// grow up to maxCapacity via EnsureWritable/Reallocate. A maxCapacity of
// 0 uses DefaultMaxCapacity. Arenas are chosen round robin.
func (a *Allocator) Allocate(initialCapacity, maxCapacity int) (*Buffer, error) {
	return a.allocate(a.pickArena(), initialCapacity, maxCapacity)
}

// AllocateFor is Allocate, but pins the allocation to the arena
// selected by hashing key instead of the round-robin counter. Passing
// a Loop's ID as key keeps every buffer that loop ever allocates in
// the same arena for the loop's lifetime.
func (a *Allocator) AllocateFor(key uint64, initialCapacity, maxCapacity int) (*Buffer, error) {
	return a.allocate(a.pickArenaForKey(key), initialCapacity, maxCapacity)
}

func (a *Allocator) allocate(ar *arena, initialCapacity, maxCapacity int) (*Buffer, error) {
	if initialCapacity < 0 {
		return nil, fmt.Errorf("allocator: negative initial capacity %d", initialCapacity)
	}
	if maxCapacity == 0 {
		maxCapacity = DefaultMaxCapacity
	}
	if initialCapacity > maxCapacity {
		return nil, fmt.Errorf("allocator: initial capacity %d exceeds max capacity %d", initialCapacity, maxCapacity)
	}

	c, slotSize, idx := classify(initialCapacity)

	switch c {
	case classTiny:
		pool := ar.tinyPools[idx]
		sp, mem, slot, err := ar.allocSubpage(pool, slotSize)
		if err != nil {
			return nil, err
		}
		return newBuffer(mem, initialCapacity, maxCapacity, &subpageOrigin{pool: pool, sp: sp, slot: slot}, a), nil

	case classSmall:
		pool := ar.smallPools[idx]
		sp, mem, slot, err := ar.allocSubpage(pool, slotSize)
		if err != nil {
			return nil, err
		}
		return newBuffer(mem, initialCapacity, maxCapacity, &subpageOrigin{pool: pool, sp: sp, slot: slot}, a), nil

	case classNormal:
		order := orderForPages(pagesForSize(initialCapacity))
		chk, page, mem, err := ar.allocOrder(order)
		if err != nil {
			return nil, err
		}
		return newBuffer(mem, initialCapacity, maxCapacity, &normalOrigin{chunk: chk, page: page, order: order}, a), nil

	default: // classUnpooled
		metricUnpooledBytes.Add(float64(initialCapacity))
		mem := make([]byte, initialCapacity)
		return newBuffer(mem, initialCapacity, maxCapacity, nil, a), nil
	}
}

// reallocate grows b to at least needCapacity by obtaining a fresh,
// larger slot, copying b's current readable window into it, and
// releasing the old slot. Called by Buffer.EnsureWritable once the
// request can no longer be satisfied by widening the view over the
// existing slot.
func (a *Allocator) reallocate(b *Buffer, needCapacity int) error {
	fresh, err := a.Allocate(needCapacity, b.maxCapacity)
	if err != nil {
		return err
	}

	copy(fresh.data, b.data[:b.writeIdx])
	fresh.readIdx = b.readIdx
	fresh.writeIdx = b.writeIdx
	fresh.order = b.order

	oldOrigin := b.origin
	b.data = fresh.data
	b.capacity = fresh.capacity
	b.maxCapacity = fresh.maxCapacity
	b.origin = fresh.origin

	if oldOrigin != nil {
		if b.suspended {
			if prev := b.stashedOrigin; prev != nil {
				b.stashedOrigin = releaseFunc(func() { prev.release(); oldOrigin.release() })
			} else {
				b.stashedOrigin = oldOrigin
			}
		} else {
			oldOrigin.release()
		}
	}
	return nil
}
