package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nt-core/netgo/flush"
)

func TestStartFlushSpanEndsOnSuccess(t *testing.T) {
	p := flush.NewPromise()
	ctx := StartFlushSpan(context.Background(), "test.flush", p)
	require.NotNil(t, ctx)

	p.Succeed()
	require.NoError(t, awaitPromise(t, p))
}

func TestStartFlushSpanRecordsFailure(t *testing.T) {
	p := flush.NewPromise()
	ctx := StartFlushSpan(context.Background(), "test.flush.failed", p)
	require.NotNil(t, ctx)

	cause := errors.New("flush failed")
	p.Fail(cause)
	err := awaitPromise(t, p)
	assert.ErrorIs(t, err, cause)
}

func awaitPromise(t *testing.T, p *flush.Promise) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Await() }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("promise never resolved")
		return nil
	}
}
