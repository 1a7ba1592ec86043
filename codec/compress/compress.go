// Package compress provides a zstd-based pipeline.Handler pair:
// CompressHandler compresses each outbound Buffer before it reaches
// the Channel, DecompressHandler restores the original bytes on the
// inbound side before handing them to the next handler.
package compress

import (
	"github.com/klauspost/compress/zstd"

	"github.com/nt-core/netgo/flush"
	"github.com/nt-core/netgo/internal/allocator"
	"github.com/nt-core/netgo/pipeline"
)

// CompressHandler zstd-compresses every outbound Buffer in place of the
// original payload.
type CompressHandler struct {
	pipeline.OutboundAdapter
	alloc   *allocator.Allocator
	encoder *zstd.Encoder
}

// NewCompressHandler builds a CompressHandler at the given zstd level,
// allocating its output Buffers from alloc.
func NewCompressHandler(alloc *allocator.Allocator, level zstd.EncoderLevel) (*CompressHandler, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	return &CompressHandler{
		OutboundAdapter: pipeline.OutboundAdapter{HandlerName: "zstd-compress"},
		alloc:           alloc,
		encoder:         enc,
	}, nil
}

func (h *CompressHandler) Write(ctx *pipeline.HandlerContext, msg interface{}, promise *flush.Promise) {
	in, ok := msg.(*allocator.Buffer)
	if !ok {
		ctx.Write(msg, promise)
		return
	}
	defer in.Release()

	raw := make([]byte, in.ReadableBytes())
	in.ReadBytes(raw)
	compressed := h.encoder.EncodeAll(raw, nil)

	out, err := h.alloc.Allocate(len(compressed), len(compressed))
	if err != nil {
		if promise != nil {
			promise.Fail(err)
		}
		return
	}
	out.WriteBytes(compressed)
	ctx.Write(out, promise)
}

// DecompressHandler restores the original bytes of every inbound
// Buffer previously compressed by a peer's CompressHandler.
type DecompressHandler struct {
	pipeline.InboundAdapter
	alloc   *allocator.Allocator
	decoder *zstd.Decoder
}

func NewDecompressHandler(alloc *allocator.Allocator) (*DecompressHandler, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &DecompressHandler{
		InboundAdapter: pipeline.InboundAdapter{HandlerName: "zstd-decompress"},
		alloc:          alloc,
		decoder:        dec,
	}, nil
}

func (h *DecompressHandler) ChannelRead(ctx *pipeline.HandlerContext, msg interface{}) {
	in, ok := msg.(*allocator.Buffer)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	defer in.Release()

	raw := make([]byte, in.ReadableBytes())
	in.ReadBytes(raw)
	decompressed, err := h.decoder.DecodeAll(raw, nil)
	if err != nil {
		ctx.FireExceptionCaught(err)
		return
	}

	out, err := h.alloc.Allocate(len(decompressed), len(decompressed))
	if err != nil {
		ctx.FireExceptionCaught(err)
		return
	}
	out.WriteBytes(decompressed)
	ctx.FireChannelRead(out)
}

// Close releases the decoder's background goroutines; call once the
// handler's Channel is closed.
func (h *DecompressHandler) Close() {
	h.decoder.Close()
}
