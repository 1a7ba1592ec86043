// Package pipeline implements the Channel Pipeline: an ordered,
// doubly-linked chain of Handler Contexts that inbound events flow
// through head-to-tail and outbound operations flow through
// tail-to-head.
package pipeline

import "github.com/nt-core/netgo/flush"

// Handler is the capability-free base every pipeline participant
// implements. Handlers additionally implement InboundHandler,
// OutboundHandler, or both, discovered via type assertion when they're
// added to a Pipeline.
type Handler interface {
	// Name returns a human-readable identifier used in logs; it need
	// not be unique (the Pipeline-assigned context name is what's
	// unique).
	Name() string
}

// Lifecycle is implemented by handlers that want to observe being
// wired into or torn out of a Pipeline.
type Lifecycle interface {
	HandlerAdded(ctx *HandlerContext)
	HandlerRemoved(ctx *HandlerContext)
}

// Sharable is implemented by handlers that hold no per-pipeline state
// and so may be added to more than one Pipeline at once.
type Sharable interface {
	Sharable() bool
}

// InboundHandler receives events flowing head-to-tail: socket
// readiness, lifecycle transitions, data arrival, and errors.
type InboundHandler interface {
	Handler
	ChannelRegistered(ctx *HandlerContext)
	ChannelUnregistered(ctx *HandlerContext)
	ChannelActive(ctx *HandlerContext)
	ChannelInactive(ctx *HandlerContext)
	ChannelRead(ctx *HandlerContext, msg interface{})
	ChannelReadComplete(ctx *HandlerContext)
	ChannelWritabilityChanged(ctx *HandlerContext)
	UserEventTriggered(ctx *HandlerContext, event interface{})
	ExceptionCaught(ctx *HandlerContext, cause error)
}

// OutboundHandler intercepts operations flowing tail-to-head: the
// user- and codec-initiated requests that eventually reach the
// Channel's I/O primitives at the head.
type OutboundHandler interface {
	Handler
	Bind(ctx *HandlerContext, local interface{}, promise *flush.Promise)
	Connect(ctx *HandlerContext, remote, local interface{}, promise *flush.Promise)
	Disconnect(ctx *HandlerContext, promise *flush.Promise)
	Close(ctx *HandlerContext, promise *flush.Promise)
	Deregister(ctx *HandlerContext, promise *flush.Promise)
	Read(ctx *HandlerContext)
	Write(ctx *HandlerContext, msg interface{}, promise *flush.Promise)
	Flush(ctx *HandlerContext)
}

// InboundAdapter gives every InboundHandler method a pass-through
// default (forward the event unchanged), so a concrete handler only
// has to embed it and override what it cares about — the same shape as
// the corpus's other "Base*" embedding adapters.
type InboundAdapter struct{ HandlerName string }

func (a *InboundAdapter) Name() string { return a.HandlerName }
func (a *InboundAdapter) ChannelRegistered(ctx *HandlerContext)   { ctx.FireChannelRegistered() }
func (a *InboundAdapter) ChannelUnregistered(ctx *HandlerContext) { ctx.FireChannelUnregistered() }
func (a *InboundAdapter) ChannelActive(ctx *HandlerContext)       { ctx.FireChannelActive() }
func (a *InboundAdapter) ChannelInactive(ctx *HandlerContext)     { ctx.FireChannelInactive() }
func (a *InboundAdapter) ChannelRead(ctx *HandlerContext, msg interface{}) {
	ctx.FireChannelRead(msg)
}
func (a *InboundAdapter) ChannelReadComplete(ctx *HandlerContext)     { ctx.FireChannelReadComplete() }
func (a *InboundAdapter) ChannelWritabilityChanged(ctx *HandlerContext) {
	ctx.FireChannelWritabilityChanged()
}
func (a *InboundAdapter) UserEventTriggered(ctx *HandlerContext, event interface{}) {
	ctx.FireUserEventTriggered(event)
}
func (a *InboundAdapter) ExceptionCaught(ctx *HandlerContext, cause error) {
	ctx.FireExceptionCaught(cause)
}

// OutboundAdapter gives every OutboundHandler method a pass-through
// default (forward toward head unchanged).
type OutboundAdapter struct{ HandlerName string }

func (a *OutboundAdapter) Name() string { return a.HandlerName }
func (a *OutboundAdapter) Bind(ctx *HandlerContext, local interface{}, promise *flush.Promise) {
	ctx.Bind(local, promise)
}
func (a *OutboundAdapter) Connect(ctx *HandlerContext, remote, local interface{}, promise *flush.Promise) {
	ctx.Connect(remote, local, promise)
}
func (a *OutboundAdapter) Disconnect(ctx *HandlerContext, promise *flush.Promise) {
	ctx.Disconnect(promise)
}
func (a *OutboundAdapter) Close(ctx *HandlerContext, promise *flush.Promise) { ctx.Close(promise) }
func (a *OutboundAdapter) Deregister(ctx *HandlerContext, promise *flush.Promise) {
	ctx.Deregister(promise)
}
func (a *OutboundAdapter) Read(ctx *HandlerContext) { ctx.Read() }
func (a *OutboundAdapter) Write(ctx *HandlerContext, msg interface{}, promise *flush.Promise) {
	ctx.Write(msg, promise)
}
func (a *OutboundAdapter) Flush(ctx *HandlerContext) { ctx.Flush() }
