// Package breaker wraps internal/pool job submission in a circuit
// breaker, tripping open after repeated failures of a blocking
// delegated task (e.g. a TLS handshake) rather than letting every
// caller keep queuing doomed work onto an already-struggling pool.
package breaker

import (
	"github.com/sony/gobreaker"

	"github.com/nt-core/netgo/internal/pool"
)

// Breaker gates submissions to a Pool behind a gobreaker
// CircuitBreaker. Pinned to gobreaker v1's non-generic API (the
// go 1.12-era CircuitBreaker returning interface{}); the generic
// CircuitBreaker[T] lives only in gobreaker/v2.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	pool *pool.Pool
}

// New builds a Breaker named name over p, using gobreaker's default
// trip condition (open once consecutive failures exceed 5) unless overridden
// via ReadyToTrip in settings. A zero-value Settings{Name: name} is a
// reasonable default.
func New(p *pool.Pool, settings gobreaker.Settings) *Breaker {
	return &Breaker{
		cb:   gobreaker.NewCircuitBreaker(settings),
		pool: p,
	}
}

// Execute runs fn(payload) on the pool through the breaker, failing
// fast with gobreaker.ErrOpenState without touching the pool at all
// once the breaker has tripped.
func (b *Breaker) Execute(payload interface{}, fn pool.JobFunc) (interface{}, error) {
	return b.cb.Execute(func() (interface{}, error) {
		return b.pool.RunJobs([]interface{}{payload}, fn)
	})
}

// State reports the breaker's current state (closed/half-open/open),
// for diagnostics.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
