package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a span named spanName under tracer tracerName and returns
// the derived context plus an end func that records err (if non-nil) and
// closes the span. Safe to call whether or not InitOTel ever ran: with no
// global TracerProvider registered, otel.Tracer returns a no-op tracer and
// this degrades to a plain context pass-through.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs map[string]any) (context.Context, func(error)) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, fmt.Sprint(v)))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(kvs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
