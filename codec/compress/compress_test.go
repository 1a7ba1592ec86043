package compress

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/klauspost/compress/zstd"
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

type noopDriver struct{ writes []interface{} }

func (d *noopDriver) DoBind(interface{}) error                { return nil }
func (d *noopDriver) DoConnect(interface{}, interface{}) error { return nil }
func (d *noopDriver) DoDisconnect() error                      { return nil }
func (d *noopDriver) DoClose() error                           { return nil }
func (d *noopDriver) DoDeregister() error                      { return nil }
func (d *noopDriver) DoRead()                                  {}
func (d *noopDriver) DoWrite(msg interface{}, promise *flush.Promise) error {
	d.writes = append(d.writes, msg)
	if promise != nil {
		promise.Succeed()
	}
	return nil
}
func (d *noopDriver) DoFlush() {}

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

func bufferOf(t *testing.T, alloc *allocator.Allocator, payload []byte) *allocator.Buffer {
	t.Helper()
	buf, err := alloc.Allocate(len(payload), len(payload))
	require.NoError(t, err)
	_, err = buf.WriteBytes(payload)
	require.NoError(t, err)
	return buf
}

type captureHandler struct {
	pipeline.InboundAdapter
	out chan []byte
}

func (h *captureHandler) ChannelRead(ctx *pipeline.HandlerContext, msg interface{}) {
	buf, ok := msg.(*allocator.Buffer)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	got := make([]byte, buf.ReadableBytes())
	buf.ReadBytes(got)
	buf.Release()
	h.out <- got
}

func TestCompressHandlerShrinksRepetitivePayload(t *testing.T) {
	l := startedLoop(t)
	alloc := allocator.New(1)
	driver := &noopDriver{}
	p := pipeline.New(l, driver, log.NewNopLogger())

	enc, err := NewCompressHandler(alloc, zstd.SpeedDefault)
	require.NoError(t, err)
	require.NoError(t, await(t, p.AddLast("compress", enc)))

	payload := bytes.Repeat([]byte("netgo-compress-me"), 64)
	buf := bufferOf(t, alloc, payload)
	require.NoError(t, await(t, p.WriteAndFlush(buf)))

	require.Len(t, driver.writes, 1)
	compressed := driver.writes[0].(*allocator.Buffer)
	assert.Less(t, compressed.ReadableBytes(), len(payload))
}

func TestDecompressHandlerRestoresOriginalBytes(t *testing.T) {
	l := startedLoop(t)
	alloc := allocator.New(1)
	driver := &noopDriver{}
	p := pipeline.New(l, driver, log.NewNopLogger())

	dec, err := NewDecompressHandler(alloc)
	require.NoError(t, err)
	t.Cleanup(dec.Close)

	received := make(chan []byte, 1)
	require.NoError(t, await(t, p.AddLast("decompress", dec)))
	require.NoError(t, await(t, p.AddLast("capture", &captureHandler{out: received})))

	payload := []byte("round trip through zstd")
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(payload, nil)
	require.NoError(t, enc.Close())

	wire := bufferOf(t, alloc, compressed)
	l.Submit(func() { p.FireChannelRead(wire) })

	select {
	case got := <-received:
		assert.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("decompress handler never produced output")
	}
}
