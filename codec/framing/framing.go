// Package framing implements a length-prefixed message framing codec
// as a pipeline.Handler pair: FrameDecoder turns a stream of arbitrary
// Buffer reads into one ChannelRead per complete message, FrameEncoder
// turns one outbound message Write into its framed wire form.
//
// Wire format: a 1-byte header followed by optional extended length
// bytes and then the payload. Let L be the payload length in bytes:
//   - 0 <= L <= 253: header[0] = L, no extended length bytes.
//   - 254 <= L <= 65535: header[0] = 0xFE, next 2 bytes encode L.
//   - 65536 <= L <= 2^56-1: header[0] = 0xFF, next 7 bytes encode the
//     lower 56 bits of L.
package framing

import (
	"fmt"

	"github.com/nt-core/netgo/flush"
	"github.com/nt-core/netgo/internal/allocator"
	"github.com/nt-core/netgo/pipeline"
)

const (
	extLen16Marker = 0xFE
	extLen64Marker = 0xFF
	maxSingleByte  = 253
	maxExtLen64    = 1<<56 - 1
)

// ErrTooLong is returned when a frame's payload exceeds the codec's
// configured maximum, or the wire format's 2^56-1 ceiling.
var ErrTooLong = fmt.Errorf("framing: payload too long")

// FrameDecoder accumulates inbound Buffers in a cumulation buffer and
// fires one ChannelRead per complete frame it can extract, with the
// length prefix stripped.
type FrameDecoder struct {
	pipeline.InboundAdapter
	alloc         *allocator.Allocator
	maxPayload    int
	cumulation    *allocator.Buffer
}

// NewFrameDecoder returns a FrameDecoder allocating payload and
// cumulation buffers from alloc, rejecting any frame whose declared
// payload length exceeds maxPayload (0 means unbounded, up to the wire
// format's own 2^56-1 ceiling).
func NewFrameDecoder(alloc *allocator.Allocator, maxPayload int) *FrameDecoder {
	return &FrameDecoder{
		InboundAdapter: pipeline.InboundAdapter{HandlerName: "frame-decoder"},
		alloc:          alloc,
		maxPayload:     maxPayload,
	}
}

func (d *FrameDecoder) ChannelRead(ctx *pipeline.HandlerContext, msg interface{}) {
	in, ok := msg.(*allocator.Buffer)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	defer in.Release()

	if d.cumulation == nil {
		buf, err := d.alloc.Allocate(in.ReadableBytes(), 0)
		if err != nil {
			ctx.FireExceptionCaught(err)
			return
		}
		d.cumulation = buf
	}
	raw := make([]byte, in.ReadableBytes())
	n, _ := in.ReadBytes(raw)
	if _, err := d.cumulation.WriteBytes(raw[:n]); err != nil {
		ctx.FireExceptionCaught(err)
		return
	}

	for {
		frame, ok, err := d.tryExtractFrame(ctx)
		if err != nil {
			ctx.FireExceptionCaught(err)
			return
		}
		if !ok {
			break
		}
		ctx.FireChannelRead(frame)
	}
	d.cumulation.DiscardReadBytes()
}

// tryExtractFrame attempts to parse and consume one complete frame from
// the head of d.cumulation, returning ok=false if not enough bytes have
// arrived yet.
func (d *FrameDecoder) tryExtractFrame(ctx *pipeline.HandlerContext) (*allocator.Buffer, bool, error) {
	cum := d.cumulation
	start := cum.ReaderIndex()
	available := cum.ReadableBytes()
	if available < 1 {
		return nil, false, nil
	}

	b0, err := cum.GetByte(start)
	if err != nil {
		return nil, false, err
	}

	var headerLen, payloadLen int
	switch b0 {
	case extLen16Marker:
		headerLen = 3
		if available < headerLen {
			return nil, false, nil
		}
		v, err := readBigEndian(cum, start+1, 2)
		if err != nil {
			return nil, false, err
		}
		payloadLen = int(v)
	case extLen64Marker:
		headerLen = 8
		if available < headerLen {
			return nil, false, nil
		}
		v, err := readBigEndian(cum, start+1, 7)
		if err != nil {
			return nil, false, err
		}
		if v > maxExtLen64 {
			return nil, false, ErrTooLong
		}
		payloadLen = int(v)
	default:
		headerLen = 1
		payloadLen = int(b0)
	}

	if d.maxPayload > 0 && payloadLen > d.maxPayload {
		return nil, false, ErrTooLong
	}
	if available < headerLen+payloadLen {
		return nil, false, nil
	}

	discard := make([]byte, headerLen)
	cum.ReadBytes(discard)

	payload, err := d.alloc.Allocate(payloadLen, payloadLen)
	if err != nil {
		return nil, false, err
	}
	body := make([]byte, payloadLen)
	cum.ReadBytes(body)
	payload.WriteBytes(body)
	return payload, true, nil
}

func readBigEndian(buf *allocator.Buffer, offset, n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := buf.GetByte(offset + i)
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func writeBigEndian(dst []byte, v uint64, n int) {
	for i := 0; i < n; i++ {
		dst[n-1-i] = byte(v)
		v >>= 8
	}
}

// FrameEncoder prefixes every outbound Buffer with its length header
// before handing it further down toward the Channel.
type FrameEncoder struct {
	pipeline.OutboundAdapter
	alloc *allocator.Allocator
}

func NewFrameEncoder(alloc *allocator.Allocator) *FrameEncoder {
	return &FrameEncoder{
		OutboundAdapter: pipeline.OutboundAdapter{HandlerName: "frame-encoder"},
		alloc:           alloc,
	}
}

func (e *FrameEncoder) Write(ctx *pipeline.HandlerContext, msg interface{}, promise *flush.Promise) {
	in, ok := msg.(*allocator.Buffer)
	if !ok {
		ctx.Write(msg, promise)
		return
	}
	defer in.Release()

	l := in.ReadableBytes()
	var headerLen int
	switch {
	case l <= maxSingleByte:
		headerLen = 1
	case l <= 0xFFFF:
		headerLen = 3
	case l <= maxExtLen64:
		headerLen = 8
	default:
		if promise != nil {
			promise.Fail(ErrTooLong)
		}
		return
	}

	out, err := e.alloc.Allocate(headerLen+l, headerLen+l)
	if err != nil {
		if promise != nil {
			promise.Fail(err)
		}
		return
	}

	header := make([]byte, headerLen)
	switch headerLen {
	case 1:
		header[0] = byte(l)
	case 3:
		header[0] = extLen16Marker
		writeBigEndian(header[1:], uint64(l), 2)
	case 8:
		header[0] = extLen64Marker
		writeBigEndian(header[1:], uint64(l), 7)
	}
	out.WriteBytes(header)

	body := make([]byte, l)
	in.ReadBytes(body)
	out.WriteBytes(body)

	ctx.Write(out, promise)
}
