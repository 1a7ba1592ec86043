package pipeline

import "github.com/nt-core/netgo/flush"

// ChannelDriver is the narrow interface the pipeline's head context
// uses to reach the owning Channel's I/O primitives, without the
// pipeline package importing channel (which imports pipeline).
type ChannelDriver interface {
	DoBind(local interface{}) error
	DoConnect(remote, local interface{}) error
	DoDisconnect() error
	DoClose() error
	DoDeregister() error
	DoRead()
	// DoWrite enqueues msg without transmitting it. promise, if
	// non-nil, must be handed to the driver's flush notifier and
	// resolved when the enqueued bytes are actually flushed (or
	// failed immediately, without reaching the notifier, if msg is
	// rejected before being queued).
	DoWrite(msg interface{}, promise *flush.Promise) error
	DoFlush()
}
