package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nt-core/netgo/flush"
	"github.com/nt-core/netgo/loop"
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

// recordingDriver captures every DoX call it receives.
type recordingDriver struct {
	writes  []interface{}
	flushed int
	closed  bool
}

func (d *recordingDriver) DoBind(interface{}) error       { return nil }
func (d *recordingDriver) DoConnect(interface{}, interface{}) error { return nil }
func (d *recordingDriver) DoDisconnect() error             { return nil }
func (d *recordingDriver) DoClose() error                  { d.closed = true; return nil }
func (d *recordingDriver) DoDeregister() error              { return nil }
func (d *recordingDriver) DoRead()                          {}
func (d *recordingDriver) DoWrite(msg interface{}, promise *flush.Promise) error {
	d.writes = append(d.writes, msg)
	if promise != nil {
		promise.Succeed()
	}
	return nil
}
func (d *recordingDriver) DoFlush() { d.flushed++ }

func await(t *testing.T, p *flush.Promise) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Await() }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("promise did not resolve in time")
		return nil
	}
}

type recordingHandler struct {
	InboundAdapter
	reads []interface{}
}

func (h *recordingHandler) ChannelRead(ctx *HandlerContext, msg interface{}) {
	h.reads = append(h.reads, msg)
	ctx.FireChannelRead(msg)
}

func TestPipelineHeadAndTailAlwaysPresent(t *testing.T) {
	l := startedLoop(t)
	p := New(l, &recordingDriver{}, log.NewNopLogger())

	_, ok := p.Context("head")
	assert.True(t, ok)
	_, ok = p.Context("tail")
	assert.True(t, ok)
}

func TestFireChannelReadTraversesHandlersInOrder(t *testing.T) {
	l := startedLoop(t)
	driver := &recordingDriver{}
	p := New(l, driver, log.NewNopLogger())

	a := &recordingHandler{InboundAdapter: InboundAdapter{HandlerName: "a"}}
	b := &recordingHandler{InboundAdapter: InboundAdapter{HandlerName: "b"}}
	require.NoError(t, await(t, p.AddLast("a", a)))
	require.NoError(t, await(t, p.AddLast("b", b)))

	done := make(chan struct{})
	l.Submit(func() {
		p.FireChannelRead("hello")
		close(done)
	})
	<-done

	assert.Equal(t, []interface{}{"hello"}, a.reads)
	assert.Equal(t, []interface{}{"hello"}, b.reads)
}

// explodingHandler panics on ChannelRead, mimicking spec.md's "B throws"
// scenario: a following handler must still get ExceptionCaught, and must
// not see the original ChannelRead.
type explodingHandler struct {
	InboundAdapter
	cause error
}

func (h *explodingHandler) ChannelRead(ctx *HandlerContext, msg interface{}) {
	panic(h.cause)
}

type catchingHandler struct {
	InboundAdapter
	reads  []interface{}
	caught []error
}

func (h *catchingHandler) ChannelRead(ctx *HandlerContext, msg interface{}) {
	h.reads = append(h.reads, msg)
	ctx.FireChannelRead(msg)
}

func (h *catchingHandler) ExceptionCaught(ctx *HandlerContext, cause error) {
	h.caught = append(h.caught, cause)
}

func TestExceptionInHandlerSkipsReadAtLaterHandlers(t *testing.T) {
	l := startedLoop(t)
	p := New(l, &recordingDriver{}, log.NewNopLogger())

	boom := fmt.Errorf("boom")
	b := &explodingHandler{InboundAdapter: InboundAdapter{HandlerName: "b"}, cause: boom}
	c := &catchingHandler{InboundAdapter: InboundAdapter{HandlerName: "c"}}

	require.NoError(t, await(t, p.AddLast("b", b)))
	require.NoError(t, await(t, p.AddLast("c", c)))

	done := make(chan struct{})
	l.Submit(func() {
		p.FireChannelRead("data")
		close(done)
	})
	<-done

	assert.Empty(t, c.reads, "c must not see the read that panicked in b")
	require.Len(t, c.caught, 1)
	assert.Equal(t, boom, c.caught[0])
}

func TestAddThenRemoveRestoresOriginalChain(t *testing.T) {
	l := startedLoop(t)
	p := New(l, &recordingDriver{}, log.NewNopLogger())

	h := &recordingHandler{InboundAdapter: InboundAdapter{HandlerName: "h"}}
	require.NoError(t, await(t, p.AddLast("h", h)))
	_, ok := p.Context("h")
	require.True(t, ok)

	require.NoError(t, await(t, p.Remove("h")))
	_, ok = p.Context("h")
	assert.False(t, ok)

	head, _ := p.Context("head")
	tail, _ := p.Context("tail")
	assert.Same(t, tail, headNextPtr(head))
	assert.Same(t, head, tailPrevPtr(tail))
}

func headNextPtr(c *HandlerContext) *HandlerContext { return c.next }
func tailPrevPtr(c *HandlerContext) *HandlerContext  { return c.prev }

func TestWriteAndFlushReachDriver(t *testing.T) {
	l := startedLoop(t)
	driver := &recordingDriver{}
	p := New(l, driver, log.NewNopLogger())

	require.NoError(t, await(t, p.WriteAndFlush("payload")))
	assert.Equal(t, []interface{}{"payload"}, driver.writes)
	assert.Equal(t, 1, driver.flushed)
}

func TestCloseReachesDriver(t *testing.T) {
	l := startedLoop(t)
	driver := &recordingDriver{}
	p := New(l, driver, log.NewNopLogger())

	require.NoError(t, await(t, p.Close()))
	assert.True(t, driver.closed)
}

func TestAddDuplicateNameFails(t *testing.T) {
	l := startedLoop(t)
	p := New(l, &recordingDriver{}, log.NewNopLogger())

	h1 := &recordingHandler{InboundAdapter: InboundAdapter{HandlerName: "dup"}}
	h2 := &recordingHandler{InboundAdapter: InboundAdapter{HandlerName: "dup"}}
	require.NoError(t, await(t, p.AddLast("dup", h1)))
	assert.Error(t, await(t, p.AddLast("dup", h2)))
}

func TestRemoveUnknownHandlerFails(t *testing.T) {
	l := startedLoop(t)
	p := New(l, &recordingDriver{}, log.NewNopLogger())

	assert.Error(t, await(t, p.Remove("nope")))
}
