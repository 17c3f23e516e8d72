package offline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type tracePropagator struct {
	tracer trace.Tracer
}

func newTracePropagator(tp trace.TracerProvider) *tracePropagator {
	return &tracePropagator{tracer: tp.Tracer("offline-queue")}
}

// saveTraceContext captures the enqueue-time trace so a replay hours later
// still shows up under the action that produced it.
func (t *tracePropagator) saveTraceContext(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// startReplaySpan restores the stored trace context on top of ctx and opens
// a client span for one replay.
func (t *tracePropagator) startReplaySpan(ctx context.Context, q QueuedRequest) (context.Context, trace.Span) {
	if len(q.TraceContext) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(q.TraceContext))
	}
	return t.tracer.Start(ctx, "offline.replay",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", q.Descriptor.Method),
			attribute.String("url.full", q.Descriptor.URL),
			attribute.String("offline.request.id", q.ID),
			attribute.Int("offline.request.retry_count", q.RetryCount),
		),
	)
}
