// Package channel implements Channel: the communication endpoint that
// owns one Event Loop registration and carries a Pipeline, bridging
// socket readiness to pipeline events and pipeline operations back to
// socket I/O.
package channel

import (
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nt-core/netgo/flush"
	"github.com/nt-core/netgo/internal/allocator"
	"github.com/nt-core/netgo/internal/poller"
	"github.com/nt-core/netgo/loop"
	"github.com/nt-core/netgo/pipeline"
)

// Default outbound water marks, in bytes. Crossing high stops
// isWritable(); dropping below low restores it. Scenario 5 of the
// testable properties exercises exactly this pair of thresholds.
const (
	DefaultHighWaterMark = 64 * 1024
	DefaultLowWaterMark  = 32 * 1024
)

type pendingWrite struct {
	data    []byte
	promise *flush.Promise
}

// Channel is one communicating endpoint: a stable ID, an owning Loop
// once registered, a Pipeline, and the outbound queue / flush
// bookkeeping described by spec.md §4.3.
type Channel struct {
	id uuid.UUID

	loop      *loop.Loop
	transport Transport
	listener  ListenerTransport
	allocator *allocator.Allocator
	notifier  *flush.Notifier
	Pipeline  *pipeline.Pipeline
	logger    log.Logger

	state    stateHolder
	local    net.Addr
	remote   net.Addr

	// isServer marks a listening Channel: its DoRead accepts child
	// connections instead of reading a byte stream, handing each to
	// acceptHandler.
	isServer      bool
	acceptHandler func(*Channel)

	predictor *receiveBufferPredictor

	pending        []pendingWrite
	inflight       []pendingWrite // snapshotted by Flush, drained as the socket accepts bytes
	queuedBytes    int
	highWaterMark  int
	lowWaterMark   int
	writable       bool
	writeInterestOn bool
}

// New wraps transport in a Channel bound to loopRef and alloc, with a
// fresh Pipeline whose head drives this Channel's I/O primitives.
func New(loopRef *loop.Loop, transport Transport, alloc *allocator.Allocator, logger log.Logger) *Channel {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &Channel{
		id:            uuid.New(),
		loop:          loopRef,
		transport:     transport,
		allocator:     alloc,
		notifier:      flush.New(nil),
		logger:        logger,
		predictor:     newReceiveBufferPredictor(),
		highWaterMark: DefaultHighWaterMark,
		lowWaterMark:  DefaultLowWaterMark,
		writable:      true,
	}
	c.Pipeline = pipeline.New(loopRef, c, logger)
	return c
}

// NewListener wraps a ListenerTransport in a server Channel: its
// DoRead accepts child connections (each built via newChild and handed
// to onAccept) instead of reading a byte stream.
func NewListener(loopRef *loop.Loop, lt ListenerTransport, alloc *allocator.Allocator, onAccept func(*Channel), logger log.Logger) *Channel {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &Channel{
		id:            uuid.New(),
		loop:          loopRef,
		listener:      lt,
		allocator:     alloc,
		notifier:      flush.New(nil),
		logger:        logger,
		isServer:      true,
		acceptHandler: onAccept,
		writable:      true,
	}
	c.Pipeline = pipeline.New(loopRef, c, logger)
	return c
}

func (c *Channel) fd() int {
	if c.isServer {
		return c.listener.Fd()
	}
	return c.transport.Fd()
}

// ID is this Channel's stable identifier.
func (c *Channel) ID() uuid.UUID { return c.id }

// State reports the Channel's current lifecycle state.
func (c *Channel) State() State { return c.state.get() }

// IsWritable reports whether the outbound queue is below its
// high-water mark (or has fallen back below its low-water mark).
func (c *Channel) IsWritable() bool { return c.writable }

// LocalAddr and RemoteAddr report the address book set once the
// Channel becomes Active.
func (c *Channel) LocalAddr() net.Addr  { return c.local }
func (c *Channel) RemoteAddr() net.Addr { return c.remote }

// Register wires the Channel's transport fd into loopRef's selector
// and transitions Unregistered -> Registered, firing channelRegistered.
// Must be called on the owning loop goroutine (normally during
// construction by a listener's accept path, or immediately after Dial
// returns).
func (c *Channel) Register() error {
	if c.state.get() != StateUnregistered {
		return ErrAlreadyRegistered
	}
	if err := c.loop.Register(c.fd(), poller.InterestRead, c.onReadiness); err != nil {
		return err
	}
	c.state.set(StateRegistered)
	c.Pipeline.FireChannelRegistered()
	return nil
}

// activate transitions toward Active, setting the address book first
// per invariant (iii): addresses are set before the active transition
// fires.
func (c *Channel) activate(local, remote net.Addr) {
	c.local = local
	c.remote = remote
	c.state.set(StateActive)
	c.Pipeline.FireChannelActive()
}

func (c *Channel) onReadiness(e poller.Event) {
	if e.Error {
		c.fail(errors.New("channel: transport reported an error condition"))
		return
	}
	if e.Writable {
		c.continueFlush()
	}
	if e.Readable {
		c.DoRead()
	}
}

// DoRead implements pipeline.ChannelDriver: allocate a receive buffer
// sized by the predictor, fill it from the transport, and fire the
// pipeline events the read produced. On a listening Channel it instead
// drains the accept queue via acceptHandler.
func (c *Channel) DoRead() {
	if c.state.isClosed() {
		return
	}
	if c.isServer {
		c.doAccept()
		return
	}
	capacity := c.predictor.nextCapacity()
	buf, err := c.allocator.AllocateFor(c.loop.ID(), capacity, capacity)
	if err != nil {
		c.fail(err)
		return
	}

	fillTarget := buf.MemoryAddress()[buf.WriterIndex():]
	n, rerr := c.transport.ReadNonBlocking(fillTarget)
	if n > 0 {
		_ = buf.Advance(n)
		c.predictor.record(n, capacity)
		c.Pipeline.FireChannelRead(buf)
		c.Pipeline.FireChannelReadComplete()
	} else {
		buf.Release()
	}

	switch {
	case rerr == nil:
		return
	case rerr == ErrWouldBlock:
		return
	case isEOF(rerr):
		c.closeFrom(StateInactive, nil)
	default:
		c.fail(rerr)
	}
}

// DoWrite implements pipeline.ChannelDriver: enqueue msg (expected to
// be an *allocator.Buffer or a plain []byte) without transmitting it,
// and register promise with the flush notifier so it resolves once
// these bytes are actually written (or fails them immediately if msg
// is rejected before being queued).
func (c *Channel) DoWrite(msg interface{}, promise *flush.Promise) error {
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

// Write is DoWrite without the error return, used outside the
// pipeline's own outbound chain (tests, or a transport driving writes
// directly); ordinary pipeline users go through
// Pipeline.Write/WriteAndFlush instead.
func (c *Channel) Write(msg interface{}, promise *flush.Promise) {
	_ = c.DoWrite(msg, promise)
}

// DoFlush implements pipeline.ChannelDriver: snapshot pending writes
// into the in-flight queue and attempt to transmit as much as the
// transport will currently accept.
func (c *Channel) DoFlush() {
	if len(c.pending) > 0 {
		c.inflight = append(c.inflight, c.pending...)
		c.pending = nil
	}
	c.continueFlush()
}

// continueFlush drains as much of the in-flight queue as the
// transport currently accepts, advancing the flush notifier's
// write counter per byte actually transmitted and rearming write
// interest if a partial write leaves bytes queued.
func (c *Channel) continueFlush() {
	for len(c.inflight) > 0 {
		head := &c.inflight[0]
		n, err := c.transport.WriteNonBlocking(head.data)
		if n > 0 {
			c.notifier.Increase(uint64(n))
			c.removeQueuedBytes(n)
			head.data = head.data[n:]
		}
		if err != nil {
			if err == ErrWouldBlock {
				c.armWriteInterest()
				c.notifier.NotifySuccess()
				return
			}
			c.notifier.NotifySuccess()
			c.fail(err)
			return
		}
		if len(head.data) > 0 {
			// Transport accepted fewer bytes than requested without
			// signaling would-block; wait for the next writable event.
			c.armWriteInterest()
			c.notifier.NotifySuccess()
			return
		}
		c.inflight = c.inflight[1:]
	}
	c.disarmWriteInterest()
	c.notifier.NotifySuccess()
}

func (c *Channel) armWriteInterest() {
	if c.writeInterestOn {
		return
	}
	c.writeInterestOn = true
	_ = c.loop.ModifyInterest(c.fd(), poller.InterestRead|poller.InterestWrite)
}

func (c *Channel) disarmWriteInterest() {
	if !c.writeInterestOn {
		return
	}
	c.writeInterestOn = false
	_ = c.loop.ModifyInterest(c.fd(), poller.InterestRead)
}

// addQueuedBytes and removeQueuedBytes maintain queuedBytes and fire
// writabilityChanged on each water-mark edge crossing, per scenario 5.
func (c *Channel) addQueuedBytes(n int) {
	c.queuedBytes += n
	if c.writable && c.queuedBytes >= c.highWaterMark {
		c.writable = false
		c.Pipeline.FireChannelWritabilityChanged()
	}
}

func (c *Channel) removeQueuedBytes(n int) {
	c.queuedBytes -= n
	if c.queuedBytes < 0 {
		c.queuedBytes = 0
	}
	if !c.writable && c.queuedBytes < c.lowWaterMark {
		c.writable = true
		c.Pipeline.FireChannelWritabilityChanged()
	}
}

// DoBind implements pipeline.ChannelDriver.
func (c *Channel) DoBind(local interface{}) error {
	addr, ok := local.(net.Addr)
	if !ok {
		return errors.New("channel: DoBind requires a net.Addr")
	}
	c.local = addr
	return nil
}

// DoConnect implements pipeline.ChannelDriver; concrete transports
// (e.g. TCP) perform the actual connect before the Channel is
// registered, so by the time a pipeline operation reaches here the
// Channel is typically already Active. Kept for transports that defer
// connect until the pipeline asks for it.
func (c *Channel) DoConnect(remote, local interface{}) error {
	if c.state.get() == StateActive {
		return nil
	}
	c.activate(c.local, c.remote)
	return nil
}

// DoDisconnect implements pipeline.ChannelDriver as a close: this
// framework models connectionless disconnect-then-reuse as unsupported
// (§3 scope), so disconnecting a connected Channel closes it.
func (c *Channel) DoDisconnect() error {
	return c.DoClose()
}

// DoClose implements pipeline.ChannelDriver: orderly shutdown, failing
// any still-queued writes with ErrClosedChannel.
func (c *Channel) DoClose() error {
	return c.closeFrom(StateClosed, ErrClosedChannel)
}

// DoDeregister implements pipeline.ChannelDriver: remove the transport
// fd from the loop's selector without necessarily closing it (used
// when ownership of a live fd moves elsewhere).
func (c *Channel) DoDeregister() error {
	if c.state.get() == StateUnregistered {
		return nil
	}
	err := c.loop.Unregister(c.fd())
	c.Pipeline.FireChannelUnregistered()
	return err
}

// closeFrom transitions toward target (Inactive then Closed, or
// directly Closed) exactly once, failing queued writes with cause (nil
// meaning "succeed whatever is already due, drop the rest silently is
// not applicable here — a close with no transport error still fails
// outstanding writes with ErrClosedChannel").
func (c *Channel) closeFrom(target State, cause error) error {
	if c.state.isClosed() {
		return nil
	}
	if c.state.get() == StateActive {
		c.state.set(StateInactive)
		c.Pipeline.FireChannelInactive()
	}
	if target != StateClosed {
		c.state.set(target)
	}

	failCause := cause
	if failCause == nil {
		failCause = ErrClosedChannel
	}
	// Every promise queued by DoWrite already reached the notifier via
	// notifier.Add, so draining it here is sufficient to fail them all;
	// no separate pass over c.pending is needed.
	c.notifier.NotifyFailure(failCause)
	c.pending = nil
	c.inflight = nil

	if target == StateClosed {
		_ = c.loop.Unregister(c.fd())
		var err error
		if c.isServer {
			err = c.listener.Close()
		} else {
			err = c.transport.Close()
		}
		c.state.set(StateClosed)
		c.Pipeline.FireChannelUnregistered()
		return err
	}
	return nil
}

// doAccept drains every connection currently queued on the listening
// socket, handing each a fresh Channel via acceptHandler.
func (c *Channel) doAccept() {
	for {
		t, err := c.listener.AcceptNonBlocking()
		if err != nil {
			if err == ErrWouldBlock {
				return
			}
			c.fail(err)
			return
		}
		child := New(c.loop, t, c.allocator, c.logger)
		if err := child.Register(); err != nil {
			t.Close()
			continue
		}
		child.activate(t.LocalAddr(), t.RemoteAddr())
		if c.acceptHandler != nil {
			c.acceptHandler(child)
		}
	}
}

// fail implements the failure semantics of spec.md §4.3: any
// underlying I/O error fails pending writes, fires exceptionCaught,
// and transitions toward Closed.
func (c *Channel) fail(cause error) {
	level.Warn(c.logger).Log("msg", "channel transport failure", "channel", c.id, "err", cause)
	c.Pipeline.FireExceptionCaught(&ErrTransport{Cause: cause})
	_ = c.closeFrom(StateClosed, cause)
}

func isEOF(err error) bool {
	return err != nil && err.Error() == "EOF"
}

// toBytes extracts the raw bytes a pipeline message carries. Accepted
// message kinds are a plain []byte (pass through) or an
// *allocator.Buffer (its remaining readable bytes, copied out so the
// caller may still release it independently of the queued copy).
func toBytes(msg interface{}) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return v, nil
	case *allocator.Buffer:
		out := make([]byte, v.ReadableBytes())
		if _, err := v.ReadBytes(out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, errors.Errorf("channel: unsupported outbound message type %T", msg)
	}
}
