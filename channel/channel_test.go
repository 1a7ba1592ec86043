package channel

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nt-core/netgo/flush"
	"github.com/nt-core/netgo/internal/allocator"
	"github.com/nt-core/netgo/loop"
	"github.com/nt-core/netgo/pipeline"
)

func startedLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New(log.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, l.Service.StartAsync(context.Background()))
	require.NoError(t, l.Service.AwaitRunning(context.Background()))
	t.Cleanup(func() {
		l.Service.StopAsync()
		_ = l.Service.AwaitTerminated(context.Background())
	})
	return l
}

type echoHandler struct {
	pipeline.InboundAdapter
	received chan []byte
}

func (h *echoHandler) ChannelRead(ctx *pipeline.HandlerContext, msg interface{}) {
	if buf, ok := msg.(*allocator.Buffer); ok {
		out := make([]byte, buf.ReadableBytes())
		n, _ := buf.ReadBytes(out)
		buf.Release()
		select {
		case h.received <- out[:n]:
		default:
		}
		return
	}
	ctx.FireChannelRead(msg)
}

func TestMemoryPairEchoesBytesAcrossLoops(t *testing.T) {
	loopA := startedLoop(t)
	loopB := startedLoop(t)
	alloc := allocator.New(1)

	a, b := NewMemoryPair(loopA, loopB, alloc, log.NewNopLogger())

	received := make(chan []byte, 1)
	require.NoError(t, await(t, b.Pipeline.AddLast("echo", &echoHandler{received: received})))

	payload := []byte("hello, event loop")
	loopA.Submit(func() {
		require.NoError(t, a.DoWrite(payload, nil))
		a.DoFlush()
	})

	select {
	case got := <-received:
		assert.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the write")
	}
}

func TestMemoryChannelClosePropagatesToPeer(t *testing.T) {
	loopA := startedLoop(t)
	loopB := startedLoop(t)
	alloc := allocator.New(1)

	a, b := NewMemoryPair(loopA, loopB, alloc, log.NewNopLogger())

	done := make(chan struct{})
	loopA.Submit(func() {
		require.NoError(t, a.DoClose())
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close never completed")
	}

	assert.Eventually(t, func() bool {
		return b.State() == StateClosed
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateClosed, a.State())
}

func TestMemoryChannelWritabilityTogglesAtWaterMarks(t *testing.T) {
	loopA := startedLoop(t)
	loopB := startedLoop(t)
	alloc := allocator.New(1)

	a, _ := NewMemoryPair(loopA, loopB, alloc, log.NewNopLogger())
	a.highWaterMark = 16
	a.lowWaterMark = 8

	done := make(chan bool, 1)
	loopA.Submit(func() {
		require.NoError(t, a.DoWrite(make([]byte, 20), nil))
		done <- a.IsWritable()
	})

	select {
	case writable := <-done:
		assert.False(t, writable, "channel should become non-writable once queued bytes cross the high water mark")
	case <-time.After(time.Second):
		t.Fatal("write never ran")
	}

	flushed := make(chan bool, 1)
	loopA.Submit(func() {
		a.DoFlush()
		flushed <- a.IsWritable()
	})

	select {
	case writable := <-flushed:
		assert.True(t, writable, "channel should become writable again once queued bytes drain below the low water mark")
	case <-time.After(time.Second):
		t.Fatal("flush never ran")
	}
}

func TestMemoryChannelWriteAfterCloseFails(t *testing.T) {
	loopA := startedLoop(t)
	loopB := startedLoop(t)
	alloc := allocator.New(1)

	a, _ := NewMemoryPair(loopA, loopB, alloc, log.NewNopLogger())

	errs := make(chan error, 1)
	loopA.Submit(func() {
		require.NoError(t, a.DoClose())
		errs <- a.DoWrite([]byte("too late"), nil)
	})

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosedChannel)
	case <-time.After(time.Second):
		t.Fatal("write never ran")
	}
}

func TestMemoryChannelWritePromiseResolvesOnlyAfterFlush(t *testing.T) {
	loopA := startedLoop(t)
	loopB := startedLoop(t)
	alloc := allocator.New(1)

	a, b := NewMemoryPair(loopA, loopB, alloc, log.NewNopLogger())

	received := make(chan []byte, 1)
	require.NoError(t, await(t, b.Pipeline.AddLast("echo", &echoHandler{received: received})))

	settled := make(chan error, 1)
	var promise *flush.Promise
	written := make(chan struct{})
	loopA.Submit(func() {
		promise = a.Pipeline.Write([]byte("buffered, not yet flushed"))
		promise.Listen(func(err error) { settled <- err })
		close(written)
	})

	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("write never ran")
	}

	select {
	case <-settled:
		t.Fatal("write promise resolved before any flush")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, promise.IsDone(), "promise must stay unresolved until flush")

	a.Pipeline.Flush()

	select {
	case err := <-settled:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write promise never resolved after flush")
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("peer never received the flushed write")
	}
}

func await(t *testing.T, p *flush.Promise) error {
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
