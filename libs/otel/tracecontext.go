package otelx

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceparentKey = "traceparent"
	tracestateKey  = "tracestate"
)

// Rows persist only the W3C trace context, so baggage is never written to or
// read back from the database regardless of the global propagator.
var w3c propagation.TraceContext

// TraceContextStrings returns the traceparent and tracestate of the span in
// ctx, or empty strings when there is none. Stored next to notifications and
// outbox events so later work links back to the request that caused it.
func TraceContextStrings(ctx context.Context) (traceparent, tracestate string) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return "", ""
	}
	carrier := propagation.MapCarrier{}
	w3c.Inject(ctx, carrier)
	return carrier.Get(traceparentKey), carrier.Get(tracestateKey)
}

// ContextWithTraceContext makes a stored span the remote parent of spans
// started from the returned context. A missing or malformed traceparent
// leaves ctx unchanged.
func ContextWithTraceContext(ctx context.Context, traceparent, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	return w3c.Extract(ctx, propagation.MapCarrier{
		traceparentKey: traceparent,
		tracestateKey:  tracestate,
	})
}
