package pipeline

import "github.com/nt-core/netgo/flush"

// headHandler is the sentinel that turns outbound operations into
// calls against the owning Channel's I/O primitives, and originates
// inbound events on the Channel's behalf (via the Pipeline's fireX
// helpers, called directly by the Channel/loop rather than through this
// handler's own inbound methods, which just pass events on).
type headHandler struct {
	driver ChannelDriver
}

func (h *headHandler) Name() string { return "head" }

func (h *headHandler) ChannelRegistered(ctx *HandlerContext)   { ctx.FireChannelRegistered() }
func (h *headHandler) ChannelUnregistered(ctx *HandlerContext) { ctx.FireChannelUnregistered() }
func (h *headHandler) ChannelActive(ctx *HandlerContext)       { ctx.FireChannelActive() }
func (h *headHandler) ChannelInactive(ctx *HandlerContext)     { ctx.FireChannelInactive() }
func (h *headHandler) ChannelRead(ctx *HandlerContext, msg interface{}) {
	ctx.FireChannelRead(msg)
}
func (h *headHandler) ChannelReadComplete(ctx *HandlerContext) { ctx.FireChannelReadComplete() }
func (h *headHandler) ChannelWritabilityChanged(ctx *HandlerContext) {
	ctx.FireChannelWritabilityChanged()
}
func (h *headHandler) UserEventTriggered(ctx *HandlerContext, event interface{}) {
	ctx.FireUserEventTriggered(event)
}
func (h *headHandler) ExceptionCaught(ctx *HandlerContext, cause error) {
	ctx.FireExceptionCaught(cause)
}

func (h *headHandler) Bind(_ *HandlerContext, local interface{}, promise *flush.Promise) {
	resolve(promise, h.driver.DoBind(local))
}
func (h *headHandler) Connect(_ *HandlerContext, remote, local interface{}, promise *flush.Promise) {
	resolve(promise, h.driver.DoConnect(remote, local))
}
func (h *headHandler) Disconnect(_ *HandlerContext, promise *flush.Promise) {
	resolve(promise, h.driver.DoDisconnect())
}
func (h *headHandler) Close(_ *HandlerContext, promise *flush.Promise) {
	resolve(promise, h.driver.DoClose())
}
func (h *headHandler) Deregister(_ *HandlerContext, promise *flush.Promise) {
	resolve(promise, h.driver.DoDeregister())
}
func (h *headHandler) Read(_ *HandlerContext) { h.driver.DoRead() }

// Write only fails promise here, on rejection before the message ever
// reaches the outbound queue (a bad message type, a closed channel).
// Success is the flush notifier's call: it resolves promise once the
// bytes DoWrite queued have actually been written, not at enqueue time.
func (h *headHandler) Write(_ *HandlerContext, msg interface{}, promise *flush.Promise) {
	if err := h.driver.DoWrite(msg, promise); err != nil {
		resolve(promise, err)
	}
}
func (h *headHandler) Flush(_ *HandlerContext) { h.driver.DoFlush() }

func resolve(promise *flush.Promise, err error) {
	if promise == nil {
		return
	}
	if err != nil {
		promise.Fail(err)
		return
	}
	promise.Succeed()
}

// tailHandler is the sentinel that catches any inbound event no user
// handler consumed: it logs uncaught exceptions, releases unconsumed
// read buffers so a forgotten channelRead can't leak pooled memory, and
// otherwise no-ops.
type tailHandler struct {
	pipeline *Pipeline
}

func (t *tailHandler) Name() string { return "tail" }

func (t *tailHandler) ChannelRegistered(*HandlerContext)   {}
func (t *tailHandler) ChannelUnregistered(*HandlerContext) {}
func (t *tailHandler) ChannelActive(*HandlerContext)       {}
func (t *tailHandler) ChannelInactive(*HandlerContext)     {}
func (t *tailHandler) ChannelRead(_ *HandlerContext, msg interface{}) {
	if r, ok := msg.(interface{ Release() bool }); ok {
		r.Release()
	}
}
func (t *tailHandler) ChannelReadComplete(*HandlerContext)       {}
func (t *tailHandler) ChannelWritabilityChanged(*HandlerContext) {}
func (t *tailHandler) UserEventTriggered(*HandlerContext, interface{}) {}
func (t *tailHandler) ExceptionCaught(_ *HandlerContext, cause error) {
	logUncaught(t.pipeline, cause)
}
