package pipeline

import (
	"github.com/go-kit/log/level"

	"github.com/nt-core/netgo/flush"
)

// HandlerContext wraps one Handler inside a Pipeline, threading it into
// the doubly-linked chain and offering the fireX/operation methods
// handlers use to pass events and operations along.
type HandlerContext struct {
	name     string
	handler  Handler
	pipeline *Pipeline

	prev, next *HandlerContext

	inboundCap  InboundHandler
	outboundCap OutboundHandler
}

// Name returns the context's unique name within its Pipeline.
func (c *HandlerContext) Name() string { return c.name }

// Handler returns the wrapped Handler.
func (c *HandlerContext) Handler() Handler { return c.handler }

// Pipeline returns the owning Pipeline.
func (c *HandlerContext) Pipeline() *Pipeline { return c.pipeline }

func (c *HandlerContext) nextInbound() *HandlerContext {
	for n := c.next; n != nil; n = n.next {
		if n.inboundCap != nil {
			return n
		}
	}
	return nil
}

func (c *HandlerContext) prevOutbound() *HandlerContext {
	for p := c.prev; p != nil; p = p.prev {
		if p.outboundCap != nil {
			return p
		}
	}
	return nil
}

func (c *HandlerContext) invokeInbound(fn func(*HandlerContext, InboundHandler)) {
	n := c.nextInbound()
	if n == nil {
		return
	}
	defer c.recoverInbound(n)
	fn(n, n.inboundCap)
}

// invokeInboundSelf invokes this context's own inbound handler, rather
// than the next one along the chain. The Pipeline uses this to
// originate an event at head, which is itself inbound-capable.
func (c *HandlerContext) invokeInboundSelf(fn func(*HandlerContext, InboundHandler)) {
	if c.inboundCap == nil {
		return
	}
	defer c.recoverInbound(c)
	fn(c, c.inboundCap)
}

// recoverInbound turns a panicking inbound handler method into an
// exceptionCaught event at the next context, per spec.md §4.4.
func (c *HandlerContext) recoverInbound(at *HandlerContext) {
	if r := recover(); r != nil {
		cause, ok := r.(error)
		if !ok {
			cause = &HandlerPanic{Value: r}
		}
		at.FireExceptionCaught(cause)
	}
}

func (c *HandlerContext) invokeOutbound(promise *flush.Promise, fn func(*HandlerContext, OutboundHandler)) {
	p := c.prevOutbound()
	if p == nil {
		if promise != nil {
			promise.Fail(ErrNoOutboundHandler)
		}
		return
	}
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = &HandlerPanic{Value: r}
			}
			if promise != nil {
				promise.Fail(cause)
			}
			p.FireExceptionCaught(cause)
		}
	}()
	fn(p, p.outboundCap)
}

// Inbound event propagation.

func (c *HandlerContext) FireChannelRegistered() {
	c.invokeInbound(func(ctx *HandlerContext, h InboundHandler) { h.ChannelRegistered(ctx) })
}

func (c *HandlerContext) FireChannelUnregistered() {
	c.invokeInbound(func(ctx *HandlerContext, h InboundHandler) { h.ChannelUnregistered(ctx) })
}

func (c *HandlerContext) FireChannelActive() {
	c.invokeInbound(func(ctx *HandlerContext, h InboundHandler) { h.ChannelActive(ctx) })
}

func (c *HandlerContext) FireChannelInactive() {
	c.invokeInbound(func(ctx *HandlerContext, h InboundHandler) { h.ChannelInactive(ctx) })
}

func (c *HandlerContext) FireChannelRead(msg interface{}) {
	c.invokeInbound(func(ctx *HandlerContext, h InboundHandler) { h.ChannelRead(ctx, msg) })
}

func (c *HandlerContext) FireChannelReadComplete() {
	c.invokeInbound(func(ctx *HandlerContext, h InboundHandler) { h.ChannelReadComplete(ctx) })
}

func (c *HandlerContext) FireChannelWritabilityChanged() {
	c.invokeInbound(func(ctx *HandlerContext, h InboundHandler) { h.ChannelWritabilityChanged(ctx) })
}

func (c *HandlerContext) FireUserEventTriggered(event interface{}) {
	c.invokeInbound(func(ctx *HandlerContext, h InboundHandler) { h.UserEventTriggered(ctx, event) })
}

// FireExceptionCaught does not recover from a panicking ExceptionCaught
// itself — a handler that panics while handling an exception has
// nowhere further inbound to escalate to except the tail's own log, and
// the tail's ExceptionCaught never panics.
func (c *HandlerContext) FireExceptionCaught(cause error) {
	n := c.nextInbound()
	if n == nil {
		return
	}
	n.inboundCap.ExceptionCaught(n, cause)
}

// Outbound operations.

func (c *HandlerContext) Bind(local interface{}, promise *flush.Promise) {
	c.invokeOutbound(promise, func(ctx *HandlerContext, h OutboundHandler) { h.Bind(ctx, local, promise) })
}

func (c *HandlerContext) Connect(remote, local interface{}, promise *flush.Promise) {
	c.invokeOutbound(promise, func(ctx *HandlerContext, h OutboundHandler) { h.Connect(ctx, remote, local, promise) })
}

func (c *HandlerContext) Disconnect(promise *flush.Promise) {
	c.invokeOutbound(promise, func(ctx *HandlerContext, h OutboundHandler) { h.Disconnect(ctx, promise) })
}

func (c *HandlerContext) Close(promise *flush.Promise) {
	c.invokeOutbound(promise, func(ctx *HandlerContext, h OutboundHandler) { h.Close(ctx, promise) })
}

func (c *HandlerContext) Deregister(promise *flush.Promise) {
	c.invokeOutbound(promise, func(ctx *HandlerContext, h OutboundHandler) { h.Deregister(ctx, promise) })
}

func (c *HandlerContext) Read() {
	c.invokeOutbound(nil, func(ctx *HandlerContext, h OutboundHandler) { h.Read(ctx) })
}

func (c *HandlerContext) Write(msg interface{}, promise *flush.Promise) {
	c.invokeOutbound(promise, func(ctx *HandlerContext, h OutboundHandler) { h.Write(ctx, msg, promise) })
}

func (c *HandlerContext) Flush() {
	c.invokeOutbound(nil, func(ctx *HandlerContext, h OutboundHandler) { h.Flush(ctx) })
}

// logUncaught is used by the tail's built-in ExceptionCaught handling.
func logUncaught(p *Pipeline, cause error) {
	level.Warn(p.logger).Log("msg", "exception reached pipeline tail unhandled", "err", cause)
}
