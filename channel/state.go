package channel

import "go.uber.org/atomic"

// State is a Channel's position in its one-way lifecycle.
type State uint32

const (
	StateUnregistered State = iota
	StateRegistered
	StateActive
	StateInactive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateHolder wraps an atomic.Uint32 to store a State, exposing the
// one-way transitions the Channel's lifecycle permits. Every method is
// only ever called from the owning Channel's loop goroutine, so the
// atomic here guards visibility to other goroutines (e.g. State()
// called from outside the loop) rather than mutual exclusion.
type stateHolder struct {
	v atomic.Uint32
}

func (h *stateHolder) get() State { return State(h.v.Load()) }

// set unconditionally advances the state. Callers are responsible for
// only calling it in forward order; States never move backward.
func (h *stateHolder) set(s State) { h.v.Store(uint32(s)) }

func (h *stateHolder) isClosed() bool { return h.get() == StateClosed }
