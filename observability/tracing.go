package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for host spans.
const TracerName = "nodehost"

// Tracer creates spans around capability invocations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer. If tracer is nil, the global tracer provider is
// used.
func NewTracer(tracer trace.Tracer) *Tracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(TracerName)
	}
	return &Tracer{tracer: tracer}
}

// StartInvocation begins a span for a capability invocation.
func (t *Tracer) StartInvocation(ctx context.Context, capabilityName, plugin string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "capability.invoke."+capabilityName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("capability.name", capabilityName),
			attribute.String("capability.plugin", plugin),
		),
	)
}

// End records err, if any, sets the span status and ends the span.
func (t *Tracer) End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
