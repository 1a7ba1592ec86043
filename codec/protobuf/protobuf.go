// Package protobuf provides an object-codec pipeline.Handler pair:
// ProtoDecoder turns an inbound Buffer holding one whole encoded message
// (e.g. a frame from codec/framing) into a decoded
// proto.Message, ProtoEncoder turns an outbound proto.Message into its
// wire-encoded Buffer.
package protobuf

import (
	"google.golang.org/protobuf/proto"

	"github.com/nt-core/netgo/flush"
	"github.com/nt-core/netgo/internal/allocator"
	"github.com/nt-core/netgo/pipeline"
)

// ProtoDecoder decodes inbound Buffers into a fresh proto.Message built
// by newMessage for each frame.
type ProtoDecoder struct {
	pipeline.InboundAdapter
	newMessage func() proto.Message
}

// NewProtoDecoder returns a ProtoDecoder constructing message instances
// via newMessage — typically a descriptor's zero-value constructor,
// e.g. func() proto.Message { return new(mypb.Span) }.
func NewProtoDecoder(newMessage func() proto.Message) *ProtoDecoder {
	return &ProtoDecoder{
		InboundAdapter: pipeline.InboundAdapter{HandlerName: "protobuf-decode"},
		newMessage:     newMessage,
	}
}

func (d *ProtoDecoder) ChannelRead(ctx *pipeline.HandlerContext, msg interface{}) {
	in, ok := msg.(*allocator.Buffer)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	defer in.Release()

	raw := make([]byte, in.ReadableBytes())
	in.ReadBytes(raw)

	out := d.newMessage()
	if err := proto.Unmarshal(raw, out); err != nil {
		ctx.FireExceptionCaught(err)
		return
	}
	ctx.FireChannelRead(out)
}

// ProtoEncoder marshals outbound proto.Message values into Buffers
// allocated from alloc.
type ProtoEncoder struct {
	pipeline.OutboundAdapter
	alloc *allocator.Allocator
}

func NewProtoEncoder(alloc *allocator.Allocator) *ProtoEncoder {
	return &ProtoEncoder{
		OutboundAdapter: pipeline.OutboundAdapter{HandlerName: "protobuf-encode"},
		alloc:           alloc,
	}
}

func (e *ProtoEncoder) Write(ctx *pipeline.HandlerContext, msg interface{}, promise *flush.Promise) {
	m, ok := msg.(proto.Message)
	if !ok {
		ctx.Write(msg, promise)
		return
	}

	raw, err := proto.Marshal(m)
	if err != nil {
		if promise != nil {
			promise.Fail(err)
		}
		return
	}

	out, err := e.alloc.Allocate(len(raw), len(raw))
	if err != nil {
		if promise != nil {
			promise.Fail(err)
		}
		return
	}
	out.WriteBytes(raw)
	ctx.Write(out, promise)
}
