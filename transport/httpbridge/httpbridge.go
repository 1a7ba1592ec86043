// Package httpbridge routes HTTP/1 requests arriving on a Channel's
// pipeline to a gorilla/mux router, the HTTP-codec-consumer example
// proving the core's external pipeline interface can carry a real
// application protocol. It assumes one ChannelRead delivers one
// complete, well-formed HTTP request — a thin example, not a
// general-purpose chunked-body HTTP/1 server.
package httpbridge

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gorilla/mux"
	"github.com/grafana/dskit/middleware"

	"github.com/nt-core/netgo/internal/allocator"
	"github.com/nt-core/netgo/pipeline"
)

// Bridge wraps a mux.Router with the teacher's timeout-middleware
// idiom: the configured write timeout cancels the handler rather than
// being enforced by the transport itself.
type Bridge struct {
	Router  *mux.Router
	handler http.Handler
}

// New builds a Bridge serving router, enforcing writeTimeout (if
// positive) via http.TimeoutHandler wrapped as a middleware.Interface.
func New(router *mux.Router, writeTimeout time.Duration) *Bridge {
	var handler http.Handler = router
	if writeTimeout > 0 {
		timeout := middleware.Func(func(h http.Handler) http.Handler {
			return http.TimeoutHandler(h, writeTimeout, "request timed out")
		})
		handler = middleware.Merge(timeout).Wrap(router)
	}
	return &Bridge{Router: router, handler: handler}
}

// RequestHandler is the inbound pipeline.Handler that decodes one HTTP
// request per Buffer, serves it through the Bridge, and writes the
// encoded response back out through the pipeline.
type RequestHandler struct {
	pipeline.InboundAdapter
	bridge *Bridge
	alloc  *allocator.Allocator
}

func NewRequestHandler(bridge *Bridge, alloc *allocator.Allocator) *RequestHandler {
	return &RequestHandler{
		InboundAdapter: pipeline.InboundAdapter{HandlerName: "http-bridge"},
		bridge:         bridge,
		alloc:          alloc,
	}
}

func (h *RequestHandler) ChannelRead(ctx *pipeline.HandlerContext, msg interface{}) {
	in, ok := msg.(*allocator.Buffer)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	defer in.Release()

	raw := make([]byte, in.ReadableBytes())
	in.ReadBytes(raw)

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		ctx.FireExceptionCaught(err)
		return
	}

	rec := httptest.NewRecorder()
	h.bridge.handler.ServeHTTP(rec, req)
	resp := rec.Result()

	var encoded bytes.Buffer
	if err := resp.Write(&encoded); err != nil {
		ctx.FireExceptionCaught(err)
		return
	}

	out, err := h.alloc.Allocate(encoded.Len(), encoded.Len())
	if err != nil {
		ctx.FireExceptionCaught(err)
		return
	}
	out.WriteBytes(encoded.Bytes())
	ctx.Pipeline().WriteAndFlush(out)
}
