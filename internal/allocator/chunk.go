package allocator

import "sync"

// chunk is a single 16 MiB backing array split into pages and managed by
// a buddyTree. Chunks serve both page-grain allocation, for the normal
// size class, and single pages handed to subpagePools for the tiny and
// small classes.
type chunk struct {
	mu     sync.Mutex
	memory []byte
	buddy  *buddyTree
	used   int // pages currently allocated, checked by full()
}

func newChunk() *chunk {
	return &chunk{
		memory: make([]byte, ChunkSize),
		buddy:  newBuddyTree(),
	}
}

// allocOrder reserves a block of 1<<order pages and returns the byte
// slice backing it.
func (c *chunk) allocOrder(order int) ([]byte, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.buddy.alloc(order)
	if err != nil {
		return nil, 0, err
	}
	c.used += 1 << order
	start := page * PageSize
	length := (1 << order) * PageSize
	return c.memory[start : start+length : start+length], page, nil
}

func (c *chunk) freeOrder(page, order int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buddy.free(page, order)
	c.used -= 1 << order
}

// full reports whether the chunk has no free order-0 block left, used
// to skip it when a subpagePool looks for a donor chunk.
func (c *chunk) full() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used >= numPagesPerChunk
}
