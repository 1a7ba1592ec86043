package pipeline

import (
	"github.com/go-kit/log"

	"github.com/nt-core/netgo/flush"
	"github.com/nt-core/netgo/loop"
)

// Pipeline is the per-Channel chain of HandlerContexts. Every structural
// mutation (addX/remove/replace) and every outbound operation is
// funneled through the owning Loop's task queue, so the chain itself
// needs no lock: only the loop goroutine ever walks or mutates it,
// matching spec.md §5's "pipeline modification ... use loop-confined
// access; no lock needed."
type Pipeline struct {
	loop   *loop.Loop
	logger log.Logger

	head *HandlerContext
	tail *HandlerContext

	contexts map[string]*HandlerContext
}

// New creates a Pipeline with just its head and tail sentinels, wired
// to driver for the head's outbound I/O and to l for mutation/operation
// scheduling. A Pipeline is never empty past construction: invariant
// (i) of spec.md §3.
func New(l *loop.Loop, driver ChannelDriver, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p := &Pipeline{
		loop:     l,
		logger:   logger,
		contexts: make(map[string]*HandlerContext),
	}

	head := &HandlerContext{name: "head", pipeline: p}
	hh := &headHandler{driver: driver}
	head.handler = hh
	head.inboundCap = hh
	head.outboundCap = hh

	tail := &HandlerContext{name: "tail", pipeline: p}
	th := &tailHandler{pipeline: p}
	tail.handler = th
	tail.inboundCap = th

	head.next = tail
	tail.prev = head

	p.head = head
	p.tail = tail
	p.contexts["head"] = head
	p.contexts["tail"] = tail

	return p
}

func newContext(p *Pipeline, name string, h Handler) *HandlerContext {
	ctx := &HandlerContext{name: name, handler: h, pipeline: p}
	if ih, ok := h.(InboundHandler); ok {
		ctx.inboundCap = ih
	}
	if oh, ok := h.(OutboundHandler); ok {
		ctx.outboundCap = oh
	}
	return ctx
}

func (p *Pipeline) runLifecycleAdded(ctx *HandlerContext) {
	if lc, ok := ctx.handler.(Lifecycle); ok {
		func() {
			defer p.recoverLifecycle("added", ctx)
			lc.HandlerAdded(ctx)
		}()
	}
}

func (p *Pipeline) runLifecycleRemoved(ctx *HandlerContext) {
	if lc, ok := ctx.handler.(Lifecycle); ok {
		func() {
			defer p.recoverLifecycle("removed", ctx)
			lc.HandlerRemoved(ctx)
		}()
	}
}

// recoverLifecycle implements spec.md §4.4: "An exception in a handler
// lifecycle hook is logged and does not undo the structural change."
func (p *Pipeline) recoverLifecycle(hook string, ctx *HandlerContext) {
	if r := recover(); r != nil {
		p.logger.Log("msg", "handler lifecycle hook panicked", "hook", hook, "handler", ctx.name, "panic", r)
	}
}

// AddFirst inserts a new context, wrapping h, immediately after head.
func (p *Pipeline) AddFirst(name string, h Handler) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() {
		if err := p.addFirstSync(name, h); err != nil {
			promise.Fail(err)
			return
		}
		promise.Succeed()
	})
	return promise
}

func (p *Pipeline) addFirstSync(name string, h Handler) error {
	if _, exists := p.contexts[name]; exists {
		return ErrHandlerExists
	}
	ctx := newContext(p, name, h)
	after := p.head
	before := after.next

	ctx.prev, ctx.next = after, before
	after.next, before.prev = ctx, ctx

	p.contexts[name] = ctx
	p.runLifecycleAdded(ctx)
	return nil
}

// AddLast inserts a new context immediately before tail.
func (p *Pipeline) AddLast(name string, h Handler) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() {
		if err := p.addLastSync(name, h); err != nil {
			promise.Fail(err)
			return
		}
		promise.Succeed()
	})
	return promise
}

func (p *Pipeline) addLastSync(name string, h Handler) error {
	if _, exists := p.contexts[name]; exists {
		return ErrHandlerExists
	}
	ctx := newContext(p, name, h)
	before := p.tail
	after := before.prev

	ctx.prev, ctx.next = after, before
	after.next, before.prev = ctx, ctx

	p.contexts[name] = ctx
	p.runLifecycleAdded(ctx)
	return nil
}

// AddBefore inserts a new context immediately before the one named
// baseName.
func (p *Pipeline) AddBefore(baseName, name string, h Handler) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() {
		base, ok := p.contexts[baseName]
		if !ok {
			promise.Fail(ErrHandlerNotFound)
			return
		}
		if _, exists := p.contexts[name]; exists {
			promise.Fail(ErrHandlerExists)
			return
		}
		ctx := newContext(p, name, h)
		after := base.prev
		ctx.prev, ctx.next = after, base
		after.next, base.prev = ctx, ctx

		p.contexts[name] = ctx
		p.runLifecycleAdded(ctx)
		promise.Succeed()
	})
	return promise
}

// AddAfter inserts a new context immediately after the one named
// baseName.
func (p *Pipeline) AddAfter(baseName, name string, h Handler) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() {
		base, ok := p.contexts[baseName]
		if !ok {
			promise.Fail(ErrHandlerNotFound)
			return
		}
		if _, exists := p.contexts[name]; exists {
			promise.Fail(ErrHandlerExists)
			return
		}
		ctx := newContext(p, name, h)
		before := base.next
		ctx.prev, ctx.next = base, before
		base.next, before.prev = ctx, ctx

		p.contexts[name] = ctx
		p.runLifecycleAdded(ctx)
		promise.Succeed()
	})
	return promise
}

// Remove unlinks the named context from the chain.
func (p *Pipeline) Remove(name string) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() {
		ctx, ok := p.contexts[name]
		if !ok || ctx == p.head || ctx == p.tail {
			promise.Fail(ErrHandlerNotFound)
			return
		}
		ctx.prev.next = ctx.next
		ctx.next.prev = ctx.prev
		delete(p.contexts, name)
		p.runLifecycleRemoved(ctx)
		promise.Succeed()
	})
	return promise
}

// Replace swaps the handler at an existing context for a new one,
// keeping the same position and, if newName differs, re-keying it.
func (p *Pipeline) Replace(oldName, newName string, h Handler) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() {
		old, ok := p.contexts[oldName]
		if !ok || old == p.head || old == p.tail {
			promise.Fail(ErrHandlerNotFound)
			return
		}
		if newName != oldName {
			if _, exists := p.contexts[newName]; exists {
				promise.Fail(ErrHandlerExists)
				return
			}
		}

		ctx := newContext(p, newName, h)
		ctx.prev, ctx.next = old.prev, old.next
		old.prev.next, old.next.prev = ctx, ctx

		delete(p.contexts, oldName)
		p.contexts[newName] = ctx

		p.runLifecycleRemoved(old)
		p.runLifecycleAdded(ctx)
		promise.Succeed()
	})
	return promise
}

// Get returns the Handler registered under name, if any.
func (p *Pipeline) Get(name string) (Handler, bool) {
	ctx, ok := p.contexts[name]
	if !ok {
		return nil, false
	}
	return ctx.handler, true
}

// Context returns the HandlerContext registered under name, if any.
func (p *Pipeline) Context(name string) (*HandlerContext, bool) {
	ctx, ok := p.contexts[name]
	return ctx, ok
}

// Inbound event entry points, always called from the owning Loop
// (typically by the Channel reacting to readiness).

func (p *Pipeline) FireChannelRegistered() {
	p.head.invokeInboundSelf(func(ctx *HandlerContext, h InboundHandler) { h.ChannelRegistered(ctx) })
}
func (p *Pipeline) FireChannelUnregistered() {
	p.head.invokeInboundSelf(func(ctx *HandlerContext, h InboundHandler) { h.ChannelUnregistered(ctx) })
}
func (p *Pipeline) FireChannelActive() {
	p.head.invokeInboundSelf(func(ctx *HandlerContext, h InboundHandler) { h.ChannelActive(ctx) })
}
func (p *Pipeline) FireChannelInactive() {
	p.head.invokeInboundSelf(func(ctx *HandlerContext, h InboundHandler) { h.ChannelInactive(ctx) })
}
func (p *Pipeline) FireChannelRead(msg interface{}) {
	p.head.invokeInboundSelf(func(ctx *HandlerContext, h InboundHandler) { h.ChannelRead(ctx, msg) })
}
func (p *Pipeline) FireChannelReadComplete() {
	p.head.invokeInboundSelf(func(ctx *HandlerContext, h InboundHandler) { h.ChannelReadComplete(ctx) })
}
func (p *Pipeline) FireChannelWritabilityChanged() {
	p.head.invokeInboundSelf(func(ctx *HandlerContext, h InboundHandler) { h.ChannelWritabilityChanged(ctx) })
}
func (p *Pipeline) FireUserEventTriggered(event interface{}) {
	p.head.invokeInboundSelf(func(ctx *HandlerContext, h InboundHandler) { h.UserEventTriggered(ctx, event) })
}
func (p *Pipeline) FireExceptionCaught(cause error) {
	p.head.inboundCap.ExceptionCaught(p.head, cause)
}

// Outbound operation entry points, issued by the user or by codec
// handlers; always scheduled onto the owning Loop.

func (p *Pipeline) Bind(local interface{}) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() { p.tail.Bind(local, promise) })
	return promise
}

func (p *Pipeline) Connect(remote, local interface{}) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() { p.tail.Connect(remote, local, promise) })
	return promise
}

func (p *Pipeline) Close() *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() { p.tail.Close(promise) })
	return promise
}

func (p *Pipeline) Deregister() *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() { p.tail.Deregister(promise) })
	return promise
}

func (p *Pipeline) Write(msg interface{}) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() { p.tail.Write(msg, promise) })
	return promise
}

func (p *Pipeline) Flush() {
	p.loop.Submit(func() { p.tail.Flush() })
}

// WriteAndFlush is the common case of Write followed immediately by
// Flush, both scheduled as a single loop task so nothing else from
// this pipeline's origin can interleave between them.
func (p *Pipeline) WriteAndFlush(msg interface{}) *flush.Promise {
	promise := flush.NewPromise()
	p.loop.Submit(func() {
		p.tail.Write(msg, promise)
		p.tail.Flush()
	})
	return promise
}
