package breaker

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nt-core/netgo/internal/pool"
)

func TestExecuteReturnsJobResult(t *testing.T) {
	p := pool.NewPool(&pool.Config{MaxWorkers: 2, QueueDepth: 10})
	defer p.Shutdown()
	b := New(p, gobreaker.Settings{Name: "test"})

	got, err := b.Execute("payload", func(interface{}) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestExecuteTripsOpenAfterConsecutiveFailures(t *testing.T) {
	p := pool.NewPool(&pool.Config{MaxWorkers: 2, QueueDepth: 10})
	defer p.Shutdown()
	failing := errors.New("job failed")
	b := New(p, gobreaker.Settings{
		Name: "test",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	for i := 0; i < 2; i++ {
		_, err := b.Execute(i, func(interface{}) (interface{}, error) {
			return nil, failing
		})
		assert.ErrorIs(t, err, failing)
	}

	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Execute("blocked", func(interface{}) (interface{}, error) {
		t.Fatal("job should not run once the breaker is open")
		return nil, nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
