package allocator

import "github.com/pkg/errors"

// ErrChunkExhausted is returned by buddyTree.alloc when no free block of
// the requested order remains in the chunk.
var ErrChunkExhausted = errors.New("allocator: chunk has no free block of the requested order")

// buddyTree is a binary buddy allocator over a chunk's pages. Order 0 is
// a single page; order k is a block of 1<<k contiguous pages. freeList[o]
// holds the starting page index of every free block currently at order
// o; blocks are split on demand and coalesced with their buddy on free.
type buddyTree struct {
	freeList [maxBuddyOrder + 1][]int
}

func newBuddyTree() *buddyTree {
	t := &buddyTree{}
	t.freeList[maxBuddyOrder] = []int{0}
	return t
}

// alloc finds or creates a free block at order, returning its starting
// page index.
func (t *buddyTree) alloc(order int) (int, error) {
	if order > maxBuddyOrder {
		return 0, ErrChunkExhausted
	}
	free := t.freeList[order]
	if n := len(free); n > 0 {
		page := free[n-1]
		t.freeList[order] = free[:n-1]
		return page, nil
	}
	parent, err := t.alloc(order + 1)
	if err != nil {
		return 0, err
	}
	buddy := parent + (1 << order)
	t.freeList[order] = append(t.freeList[order], buddy)
	return parent, nil
}

// free returns the block starting at page, of the given order, to the
// tree, coalescing with its buddy while the buddy is also free.
func (t *buddyTree) free(page, order int) {
	for order < maxBuddyOrder {
		buddy := page ^ (1 << order)
		list := t.freeList[order]
		idx := -1
		for i, p := range list {
			if p == buddy {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}
		list[idx] = list[len(list)-1]
		t.freeList[order] = list[:len(list)-1]
		if buddy < page {
			page = buddy
		}
		order++
	}
	t.freeList[order] = append(t.freeList[order], page)
}
