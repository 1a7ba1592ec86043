package allocator

import "sync"

// subpage is a single order-0 page (PageSize bytes) sliced into
// equal-size slots of a tiny or small size class.
type subpage struct {
	owner     *chunk
	page      int
	memory    []byte
	slotSize  int
	numSlots  int
	used      []bool
	freeCount int
}

func newSubpage(owner *chunk, page int, memory []byte, slotSize int) *subpage {
	numSlots := len(memory) / slotSize
	return &subpage{
		owner:     owner,
		page:      page,
		memory:    memory,
		slotSize:  slotSize,
		numSlots:  numSlots,
		used:      make([]bool, numSlots),
		freeCount: numSlots,
	}
}

// take reserves the first free slot and returns its backing bytes and
// index.
func (s *subpage) take() ([]byte, int) {
	for i, used := range s.used {
		if !used {
			s.used[i] = true
			s.freeCount--
			start := i * s.slotSize
			return s.memory[start : start+s.slotSize : start+s.slotSize], i
		}
	}
	return nil, -1
}

func (s *subpage) release(slot int) {
	s.used[slot] = false
	s.freeCount++
}

// subpagePool is the per-size-class collection of subpages an arena
// allocates tiny or small requests from. Pages with no free slots left
// are skipped on lookup but kept until fully freed, at which point they
// are returned to their owning chunk's buddy tree.
type subpagePool struct {
	mu       sync.Mutex
	slotSize int
	pages    []*subpage
}

func newSubpagePool(slotSize int) *subpagePool {
	return &subpagePool{slotSize: slotSize}
}

// take returns a slot from an existing page with room, or nil if the
// pool has none and the caller must donate a fresh page via addPage.
func (p *subpagePool) take() (*subpage, []byte, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sp := range p.pages {
		if sp.freeCount > 0 {
			mem, slot := sp.take()
			return sp, mem, slot
		}
	}
	return nil, nil, -1
}

func (p *subpagePool) addPage(sp *subpage) {
	p.mu.Lock()
	p.pages = append(p.pages, sp)
	p.mu.Unlock()
}

// releaseSlot frees slot on sp. If that empties the page entirely, the
// page is dropped from the pool and its page returned to the owning
// chunk's buddy tree.
func (p *subpagePool) releaseSlot(sp *subpage, slot int) {
	p.mu.Lock()
	sp.release(slot)
	empty := sp.freeCount == sp.numSlots
	if empty {
		for i, candidate := range p.pages {
			if candidate == sp {
				p.pages = append(p.pages[:i], p.pages[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	if empty {
		sp.owner.freeOrder(sp.page, 0)
	}
}
