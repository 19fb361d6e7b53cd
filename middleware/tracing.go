package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pricetrack/storemesh/task"
)

// tracerName is the instrumentation scope name for storemesh tracing.
const tracerName = "github.com/pricetrack/storemesh"

// Tracing returns middleware that wraps a handler run in a span from the
// global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: storemesh.task.id, storemesh.task.type,
// storemesh.task.attempt. On error the span status is codes.Error.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "storemesh.task.execute",
			trace.WithAttributes(
				attribute.String("storemesh.task.id", t.ID.String()),
				attribute.String("storemesh.task.type", string(t.Type)),
				attribute.Int("storemesh.task.attempt", t.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
