package utils

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "app-medrec"

func toAttributes(attributes map[string]interface{}) []attribute.KeyValue {
	otelAttrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			otelAttrs = append(otelAttrs, attribute.String(k, val))
		case int:
			otelAttrs = append(otelAttrs, attribute.Int(k, val))
		case int64:
			otelAttrs = append(otelAttrs, attribute.Int64(k, val))
		case bool:
			otelAttrs = append(otelAttrs, attribute.Bool(k, val))
		case float64:
			otelAttrs = append(otelAttrs, attribute.Float64(k, val))
		case fmt.Stringer:
			otelAttrs = append(otelAttrs, attribute.String(k, val.String()))
		default:
			otelAttrs = append(otelAttrs, attribute.String(k, "unknown_type"))
		}
	}
	return otelAttrs
}

// TraceOperation starts a span with the given attributes. The returned
// cleanup records the elapsed time and ends the span.
func TraceOperation(ctx context.Context, operationName string, attributes map[string]interface{}) (context.Context, trace.Span, func()) {
	start := time.Now()

	spanCtx, span := otel.Tracer(tracerName).Start(ctx, operationName, trace.WithAttributes(toAttributes(attributes)...))

	cleanup := func() {
		duration := time.Since(start)
		span.SetAttributes(
			attribute.Int64("duration_ms", duration.Milliseconds()),
			attribute.String("duration", duration.String()),
		)
		span.End()
	}

	return spanCtx, span, cleanup
}

// TraceDatabaseOperation traces a MongoDB operation
func TraceDatabaseOperation(ctx context.Context, operation, collection string) (context.Context, trace.Span, func()) {
	return TraceOperation(ctx, "db."+operation, map[string]interface{}{
		"db.operation":  operation,
		"db.collection": collection,
		"db.system":     "mongodb",
	})
}

// TraceExternalService traces a call to a service outside this process
func TraceExternalService(ctx context.Context, serviceName, operation string) (context.Context, trace.Span, func()) {
	return TraceOperation(ctx, serviceName+"."+operation, map[string]interface{}{
		"service.name":      serviceName,
		"service.operation": operation,
	})
}

// TraceAuditOperation traces writing audit entries
func TraceAuditOperation(ctx context.Context, action string, batchSize int) (context.Context, trace.Span, func()) {
	return TraceOperation(ctx, "audit."+action, map[string]interface{}{
		"audit.action":     action,
		"audit.batch_size": batchSize,
	})
}

// RecordErrorInSpan records err on span, marks the span failed and attaches
// the extra context as attributes.
func RecordErrorInSpan(span trace.Span, err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(toAttributes(context)...)
}

// AddSpanAttribute adds a single attribute to a span
func AddSpanAttribute(span trace.Span, key string, value interface{}) {
	span.SetAttributes(toAttributes(map[string]interface{}{key: value})...)
}
