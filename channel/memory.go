package channel

import (
	"net"

	"github.com/go-kit/log"
	"github.com/google/uuid"

	"github.com/nt-core/netgo/flush"
	"github.com/nt-core/netgo/internal/allocator"
	"github.com/nt-core/netgo/loop"
	"github.com/nt-core/netgo/pipeline"
)

// memoryAddr satisfies net.Addr for an in-memory transport endpoint
// that has no real socket address.
type memoryAddr string

func (a memoryAddr) Network() string { return "memory" }
func (a memoryAddr) String() string  { return string(a) }

// MemoryChannel is an in-memory duplex Channel, one half of a pair
// created by NewMemoryPair. It implements the same state machine,
// outbound queue and writability bookkeeping as Channel, without a
// real file descriptor: a write completes at once on the sending side
// and always succeeds, with delivery handed to the peer's own Loop via
// Submit, so there is no would-block/partial-write path to model. Used for the echo-style testable properties and for unit
// tests that would otherwise need a real socket pair.
type MemoryChannel struct {
	id uuid.UUID

	loop      *loop.Loop
	allocator *allocator.Allocator
	notifier  *flush.Notifier
	Pipeline  *pipeline.Pipeline
	logger    log.Logger

	state stateHolder
	peer  *MemoryChannel

	pending       []pendingWrite
	queuedBytes   int
	highWaterMark int
	lowWaterMark  int
	writable      bool
}

// NewMemoryPair returns two connected MemoryChannels, each active and
// bound to its own Loop, ready to exchange messages.
func NewMemoryPair(loopA, loopB *loop.Loop, alloc *allocator.Allocator, logger log.Logger) (a, b *MemoryChannel) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	a = newMemoryChannel(loopA, alloc, logger)
	b = newMemoryChannel(loopB, alloc, logger)
	a.peer = b
	b.peer = a

	a.state.set(StateActive)
	b.state.set(StateActive)
	a.Pipeline.FireChannelRegistered()
	a.Pipeline.FireChannelActive()
	b.Pipeline.FireChannelRegistered()
	b.Pipeline.FireChannelActive()
	return a, b
}

func newMemoryChannel(loopRef *loop.Loop, alloc *allocator.Allocator, logger log.Logger) *MemoryChannel {
	c := &MemoryChannel{
		id:            uuid.New(),
		loop:          loopRef,
		allocator:     alloc,
		notifier:      flush.New(nil),
		logger:        logger,
		highWaterMark: DefaultHighWaterMark,
		lowWaterMark:  DefaultLowWaterMark,
		writable:      true,
	}
	c.Pipeline = pipeline.New(loopRef, c, logger)
	return c
}

func (c *MemoryChannel) ID() uuid.UUID     { return c.id }
func (c *MemoryChannel) State() State      { return c.state.get() }
func (c *MemoryChannel) IsWritable() bool  { return c.writable }
func (c *MemoryChannel) LocalAddr() net.Addr { return memoryAddr(c.id.String()) }
func (c *MemoryChannel) RemoteAddr() net.Addr {
	if c.peer == nil {
		return nil
	}
	return memoryAddr(c.peer.id.String())
}

func (c *MemoryChannel) DoBind(interface{}) error { return nil }

func (c *MemoryChannel) DoConnect(interface{}, interface{}) error { return nil }

func (c *MemoryChannel) DoDisconnect() error { return c.DoClose() }

func (c *MemoryChannel) DoDeregister() error {
	c.Pipeline.FireChannelUnregistered()
	return nil
}

func (c *MemoryChannel) DoRead() {}

func (c *MemoryChannel) DoWrite(msg interface{}, promise *flush.Promise) error {
	data, err := toBytes(msg)
	if err != nil {
		if promise != nil {
			promise.Fail(err)
		}
		return err
	}
	if c.state.isClosed() {
		if promise != nil {
			promise.Fail(ErrClosedChannel)
		}
		return ErrClosedChannel
	}
	c.pending = append(c.pending, pendingWrite{data: data, promise: promise})
	c.notifier.Add(promise, uint64(len(data)))
	c.addQueuedBytes(len(data))
	return nil
}

func (c *MemoryChannel) DoFlush() {
	pending := c.pending
	c.pending = nil

	for _, w := range pending {
		n := len(w.data)
		c.notifier.Increase(uint64(n))
		c.removeQueuedBytes(n)
		c.deliverToPeer(w.data)
	}
	c.notifier.NotifySuccess()
}

// deliverToPeer hands data to the peer's pipeline as a freshly
// allocated Buffer, scheduled on the peer's own loop so the peer's
// handlers only ever run on their owning goroutine.
func (c *MemoryChannel) deliverToPeer(data []byte) {
	peer := c.peer
	if peer == nil || peer.state.isClosed() {
		return
	}
	peer.loop.Submit(func() {
		if peer.state.isClosed() {
			return
		}
		buf, err := peer.allocator.AllocateFor(peer.loop.ID(), len(data), len(data))
		if err != nil {
			peer.fail(err)
			return
		}
		if _, werr := buf.WriteBytes(data); werr != nil {
			buf.Release()
			peer.fail(werr)
			return
		}
		peer.Pipeline.FireChannelRead(buf)
		peer.Pipeline.FireChannelReadComplete()
	})
}

func (c *MemoryChannel) addQueuedBytes(n int) {
	c.queuedBytes += n
	if c.writable && c.queuedBytes >= c.highWaterMark {
		c.writable = false
		c.Pipeline.FireChannelWritabilityChanged()
	}
}

func (c *MemoryChannel) removeQueuedBytes(n int) {
	c.queuedBytes -= n
	if c.queuedBytes < 0 {
		c.queuedBytes = 0
	}
	if !c.writable && c.queuedBytes < c.lowWaterMark {
		c.writable = true
		c.Pipeline.FireChannelWritabilityChanged()
	}
}

func (c *MemoryChannel) DoClose() error {
	if c.state.isClosed() {
		return nil
	}
	wasActive := c.state.get() == StateActive
	c.state.set(StateClosed)
	if wasActive {
		c.Pipeline.FireChannelInactive()
	}

	// Every promise queued by DoWrite already reached the notifier via
	// notifier.Add, so draining it here is sufficient to fail them all;
	// no separate pass over c.pending is needed.
	c.notifier.NotifyFailure(ErrClosedChannel)
	c.pending = nil
	c.Pipeline.FireChannelUnregistered()

	if c.peer != nil && !c.peer.state.isClosed() {
		peer := c.peer
		peer.loop.Submit(func() { peer.DoClose() })
	}
	return nil
}

func (c *MemoryChannel) fail(cause error) {
	c.Pipeline.FireExceptionCaught(&ErrTransport{Cause: cause})
	_ = c.DoClose()
}
