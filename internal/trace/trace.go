// Package trace instruments a flush.Promise's enqueue-to-resolve
// lifetime with an OpenTelemetry span, for latency diagnostics on
// slow or failing flushes.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nt-core/netgo/flush"
)

var tracer = otel.Tracer("github.com/nt-core/netgo/flush")

// StartFlushSpan starts a span named name covering promise's lifetime
// and ends it when promise resolves, recording an error status if it
// failed. The returned context carries the new span.
func StartFlushSpan(ctx context.Context, name string, promise *flush.Promise, opts ...oteltrace.SpanStartOption) context.Context {
	ctx, span := tracer.Start(ctx, name, opts...)
	promise.Listen(func(cause error) {
		if cause != nil {
			span.RecordError(cause)
			span.SetStatus(codes.Error, cause.Error())
		}
		span.End()
	})
	return ctx
}
