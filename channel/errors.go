package channel

import "github.com/pkg/errors"

// ErrClosedChannel is the cause attached to writes and operations
// issued against a Channel already in the Closed state.
var ErrClosedChannel = errors.New("channel: closed")

// ErrNotYetRegistered is returned by bind/connect/write attempted
// before a Channel has been registered with an Event Loop.
var ErrNotYetRegistered = errors.New("channel: not yet registered")

// ErrAlreadyRegistered guards against registering the same Channel
// twice.
var ErrAlreadyRegistered = errors.New("channel: already registered")

// ErrTransport wraps an underlying I/O error observed on a Channel's
// transport, distinguishing it from protocol-level failures raised by
// pipeline handlers.
type ErrTransport struct {
	Cause error
}

func (e *ErrTransport) Error() string { return "channel: transport error: " + e.Cause.Error() }
func (e *ErrTransport) Unwrap() error  { return e.Cause }
