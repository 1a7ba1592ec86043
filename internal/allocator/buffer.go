// Package allocator implements the pooled byte-buffer arena: size-classed
// chunks backing tiny, small and normal allocations via subpages and a
// buddy tree, with unpooled fallback for anything larger than half a
// chunk. Buffer is the refcounted handle callers operate on; it is not
// safe for concurrent read/write by design, mirroring how a Channel's
// pipeline hands a single buffer between handlers on one loop at a time.
package allocator

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrAlreadyReleased is returned by any operation on a Buffer whose
// reference count has already reached zero.
var ErrAlreadyReleased = errors.New("allocator: buffer already released")

// ByteOrder selects the encoding used by the Read/Write accessors that
// don't name an explicit order.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// origin is where a Buffer's backing memory came from, and how to give
// it back. Unpooled buffers have a nil origin: their memory is left for
// the garbage collector on release.
type origin interface {
	release()
}

type subpageOrigin struct {
	pool *subpagePool
	sp   *subpage
	slot int
}

func (o *subpageOrigin) release() { o.pool.releaseSlot(o.sp, o.slot) }

type normalOrigin struct {
	chunk *chunk
	page  int
	order int
}

func (o *normalOrigin) release() { o.chunk.freeOrder(o.page, o.order) }

// Buffer is a single logical byte buffer backed by pooled or unpooled
// memory. Read and write cursors are independent, Netty-ByteBuf style:
// bytes before readIdx have been consumed, bytes in [readIdx, writeIdx)
// are readable, and bytes in [writeIdx, capacity) are writable.
type Buffer struct {
	data []byte // full backing slot; len(data) is the slot's ceiling

	capacity    int // currently visible capacity, <= len(data)
	maxCapacity int

	readIdx  int
	writeIdx int

	order ByteOrder

	refCnt *atomic.Int32
	origin origin
	alloc  *Allocator

	suspended     bool
	stashedOrigin origin
}

func newBuffer(data []byte, initialCapacity, maxCapacity int, o origin, a *Allocator) *Buffer {
	return &Buffer{
		data:        data,
		capacity:    initialCapacity,
		maxCapacity: maxCapacity,
		order:       BigEndian,
		refCnt:      atomic.NewInt32(1),
		origin:      o,
		alloc:       a,
	}
}

func (b *Buffer) checkAlive() error {
	if b.refCnt.Load() <= 0 {
		return ErrAlreadyReleased
	}
	return nil
}

// Retain increments the reference count and returns the same Buffer, so
// a second owner (e.g. a flush promise keeping the write payload alive
// after the handler that produced it moved on) can Release independently.
func (b *Buffer) Retain() *Buffer {
	b.refCnt.Inc()
	return b
}

// Release decrements the reference count, returning the backing memory
// to its arena once it reaches zero. Reports whether this call was the
// one that freed it.
func (b *Buffer) Release() bool {
	if n := b.refCnt.Dec(); n != 0 {
		// n < 0 is a release past zero: the memory was already freed.
		return false
	}
	if b.suspended {
		if prev, cur := b.stashedOrigin, b.origin; prev != nil && cur != nil {
			b.stashedOrigin = releaseFunc(func() { prev.release(); cur.release() })
		} else if cur != nil {
			b.stashedOrigin = cur
		}
		return true
	}
	if b.origin != nil {
		b.origin.release()
	}
	return true
}

// SuspendIntermediateDeallocation stops Release from returning this
// buffer's memory to its arena immediately; the origin is stashed
// instead, so a caller that's about to Reallocate a buffer repeatedly in
// a tight loop can defer the actual frees to one batch at the end.
func (b *Buffer) SuspendIntermediateDeallocation() {
	b.suspended = true
}

// ResumeIntermediateDeallocation re-enables immediate release and frees
// any origin stashed while suspended.
func (b *Buffer) ResumeIntermediateDeallocation() {
	b.suspended = false
	if b.stashedOrigin != nil {
		o := b.stashedOrigin
		b.stashedOrigin = nil
		o.release()
	}
}

// Capacity returns the buffer's current capacity.
func (b *Buffer) Capacity() int { return b.capacity }

// MaxCapacity returns the ceiling Reallocate/EnsureWritable will grow to.
func (b *Buffer) MaxCapacity() int { return b.maxCapacity }

// ReaderIndex and WriterIndex report the current cursor positions.
func (b *Buffer) ReaderIndex() int { return b.readIdx }
func (b *Buffer) WriterIndex() int { return b.writeIdx }

// ReadableBytes is the number of bytes available to a Read call.
func (b *Buffer) ReadableBytes() int { return b.writeIdx - b.readIdx }

// WritableBytes is the number of bytes available to a Write call before
// EnsureWritable would need to grow the buffer.
func (b *Buffer) WritableBytes() int { return b.capacity - b.writeIdx }

// MemoryAddress exposes the buffer's backing slice directly, for
// callers that fill it through a syscall (e.g. a socket read)
// needing a raw slice rather than the cursor-based accessors.
func (b *Buffer) MemoryAddress() []byte { return b.data[:b.capacity] }

// Advance moves the writer index forward by n, for a caller that filled
// MemoryAddress()[WriterIndex():] directly (e.g. a socket Read) instead
// of going through WriteBytes.
func (b *Buffer) Advance(n int) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	if n < 0 || b.writeIdx+n > b.capacity {
		return fmt.Errorf("allocator: advance of %d bytes exceeds capacity", n)
	}
	b.writeIdx += n
	return nil
}

// DiscardReadBytes compacts the buffer by shifting unread bytes down to
// index 0, reclaiming the space already consumed by Read calls.
func (b *Buffer) DiscardReadBytes() {
	if b.readIdx == 0 {
		return
	}
	n := copy(b.data, b.data[b.readIdx:b.writeIdx])
	b.writeIdx = n
	b.readIdx = 0
}

// EnsureWritable grows the buffer, via the owning Allocator's
// reallocate, until at least n more bytes can be written, failing if
// that would exceed maxCapacity.
func (b *Buffer) EnsureWritable(n int) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	need := b.writeIdx + n
	if need <= b.capacity {
		return nil
	}
	if need > b.maxCapacity {
		return fmt.Errorf("allocator: write of %d bytes exceeds max capacity %d", n, b.maxCapacity)
	}
	if need <= len(b.data) {
		b.capacity = need
		return nil
	}
	if b.alloc == nil {
		return fmt.Errorf("allocator: buffer has no owning allocator to grow into")
	}
	return b.alloc.reallocate(b, need)
}

func (b *Buffer) GetByte(index int) (byte, error) {
	if err := b.checkAlive(); err != nil {
		return 0, err
	}
	if index < 0 || index >= b.capacity {
		return 0, fmt.Errorf("allocator: index %d out of range [0,%d)", index, b.capacity)
	}
	return b.data[index], nil
}

func (b *Buffer) SetByte(index int, v byte) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	if index < 0 || index >= b.capacity {
		return fmt.Errorf("allocator: index %d out of range [0,%d)", index, b.capacity)
	}
	b.data[index] = v
	return nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	v, err := b.GetByte(b.readIdx)
	if err != nil {
		return 0, err
	}
	b.readIdx++
	return v, nil
}

func (b *Buffer) WriteUint8(v uint8) error {
	if err := b.EnsureWritable(1); err != nil {
		return err
	}
	b.data[b.writeIdx] = v
	b.writeIdx++
	return nil
}

func (b *Buffer) ReadUint16() (uint16, error) { return b.readUint16(b.order) }
func (b *Buffer) ReadUint16LE() (uint16, error) { return b.readUint16(LittleEndian) }

func (b *Buffer) readUint16(order ByteOrder) (uint16, error) {
	if err := b.checkAlive(); err != nil {
		return 0, err
	}
	if b.readIdx+2 > b.writeIdx {
		return 0, fmt.Errorf("allocator: short read, need 2 bytes, have %d", b.writeIdx-b.readIdx)
	}
	buf := b.data[b.readIdx : b.readIdx+2]
	b.readIdx += 2
	if order == LittleEndian {
		return binary.LittleEndian.Uint16(buf), nil
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (b *Buffer) WriteUint16(v uint16) error   { return b.writeUint16(v, b.order) }
func (b *Buffer) WriteUint16LE(v uint16) error { return b.writeUint16(v, LittleEndian) }

func (b *Buffer) writeUint16(v uint16, order ByteOrder) error {
	if err := b.EnsureWritable(2); err != nil {
		return err
	}
	buf := b.data[b.writeIdx : b.writeIdx+2]
	if order == LittleEndian {
		binary.LittleEndian.PutUint16(buf, v)
	} else {
		binary.BigEndian.PutUint16(buf, v)
	}
	b.writeIdx += 2
	return nil
}

func (b *Buffer) ReadUint32() (uint32, error)   { return b.readUint32(b.order) }
func (b *Buffer) ReadUint32LE() (uint32, error) { return b.readUint32(LittleEndian) }

func (b *Buffer) readUint32(order ByteOrder) (uint32, error) {
	if err := b.checkAlive(); err != nil {
		return 0, err
	}
	if b.readIdx+4 > b.writeIdx {
		return 0, fmt.Errorf("allocator: short read, need 4 bytes, have %d", b.writeIdx-b.readIdx)
	}
	buf := b.data[b.readIdx : b.readIdx+4]
	b.readIdx += 4
	if order == LittleEndian {
		return binary.LittleEndian.Uint32(buf), nil
	}
	return binary.BigEndian.Uint32(buf), nil
}

func (b *Buffer) WriteUint32(v uint32) error   { return b.writeUint32(v, b.order) }
func (b *Buffer) WriteUint32LE(v uint32) error { return b.writeUint32(v, LittleEndian) }

func (b *Buffer) writeUint32(v uint32, order ByteOrder) error {
	if err := b.EnsureWritable(4); err != nil {
		return err
	}
	buf := b.data[b.writeIdx : b.writeIdx+4]
	if order == LittleEndian {
		binary.LittleEndian.PutUint32(buf, v)
	} else {
		binary.BigEndian.PutUint32(buf, v)
	}
	b.writeIdx += 4
	return nil
}

func (b *Buffer) ReadUint64() (uint64, error)   { return b.readUint64(b.order) }
func (b *Buffer) ReadUint64LE() (uint64, error) { return b.readUint64(LittleEndian) }

func (b *Buffer) readUint64(order ByteOrder) (uint64, error) {
	if err := b.checkAlive(); err != nil {
		return 0, err
	}
	if b.readIdx+8 > b.writeIdx {
		return 0, fmt.Errorf("allocator: short read, need 8 bytes, have %d", b.writeIdx-b.readIdx)
	}
	buf := b.data[b.readIdx : b.readIdx+8]
	b.readIdx += 8
	if order == LittleEndian {
		return binary.LittleEndian.Uint64(buf), nil
	}
	return binary.BigEndian.Uint64(buf), nil
}

func (b *Buffer) WriteUint64(v uint64) error   { return b.writeUint64(v, b.order) }
func (b *Buffer) WriteUint64LE(v uint64) error { return b.writeUint64(v, LittleEndian) }

func (b *Buffer) writeUint64(v uint64, order ByteOrder) error {
	if err := b.EnsureWritable(8); err != nil {
		return err
	}
	buf := b.data[b.writeIdx : b.writeIdx+8]
	if order == LittleEndian {
		binary.LittleEndian.PutUint64(buf, v)
	} else {
		binary.BigEndian.PutUint64(buf, v)
	}
	b.writeIdx += 8
	return nil
}

// ReadBytes copies ReadableBytes (or len(dst), whichever is smaller)
// into dst and advances the read cursor by however many bytes were
// copied.
func (b *Buffer) ReadBytes(dst []byte) (int, error) {
	if err := b.checkAlive(); err != nil {
		return 0, err
	}
	n := copy(dst, b.data[b.readIdx:b.writeIdx])
	b.readIdx += n
	return n, nil
}

// WriteBytes appends src to the buffer, growing it via EnsureWritable
// first if necessary.
func (b *Buffer) WriteBytes(src []byte) (int, error) {
	if err := b.EnsureWritable(len(src)); err != nil {
		return 0, err
	}
	n := copy(b.data[b.writeIdx:], src)
	b.writeIdx += n
	return n, nil
}

// Slice returns a new Buffer sharing this one's backing memory over
// [index, index+length), with its own independent cursors. The slice
// does not own the memory: Release on it is a no-op, and the parent must
// outlive every slice taken from it.
func (b *Buffer) Slice(index, length int) (*Buffer, error) {
	if err := b.checkAlive(); err != nil {
		return nil, err
	}
	if index < 0 || length < 0 || index+length > b.capacity {
		return nil, fmt.Errorf("allocator: slice [%d,%d) out of range [0,%d)", index, index+length, b.capacity)
	}
	return &Buffer{
		data:        b.data[index : index+length : index+length],
		capacity:    length,
		maxCapacity: length,
		writeIdx:    length,
		order:       b.order,
		refCnt:      atomic.NewInt32(1),
	}, nil
}

// Duplicate returns a new Buffer view over this one's full backing
// memory with independent cursors but shared contents. Like Slice, the
// duplicate does not own the memory.
func (b *Buffer) Duplicate() (*Buffer, error) {
	if err := b.checkAlive(); err != nil {
		return nil, err
	}
	dup := &Buffer{
		data:        b.data,
		capacity:    b.capacity,
		maxCapacity: b.maxCapacity,
		readIdx:     b.readIdx,
		writeIdx:    b.writeIdx,
		order:       b.order,
		refCnt:      atomic.NewInt32(1),
	}
	return dup, nil
}

// RetainedDuplicate is Duplicate plus a Retain on the parent, so the
// duplicate's eventual Release keeps the parent's memory alive until
// balanced by a matching Release on the parent itself.
func (b *Buffer) RetainedDuplicate() (*Buffer, error) {
	dup, err := b.Duplicate()
	if err != nil {
		return nil, err
	}
	b.Retain()
	dup.origin = releaseFunc(func() { b.Release() })
	dup.alloc = b.alloc
	return dup, nil
}

// releaseFunc adapts a plain function to the origin interface.
type releaseFunc func()

func (f releaseFunc) release() { f() }

// SetOrder changes which endianness the order-implicit Read/Write
// accessors use from this point on.
func (b *Buffer) SetOrder(o ByteOrder) { b.order = o }

// Order reports the buffer's current default endianness.
func (b *Buffer) Order() ByteOrder { return b.order }
