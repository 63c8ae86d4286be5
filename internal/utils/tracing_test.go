package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestTraceOperation(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span, cleanup := TraceOperation(context.Background(), "test_operation", map[string]interface{}{
		"string_attr":   "value",
		"int_attr":      42,
		"int64_attr":    int64(123),
		"bool_attr":     true,
		"float64_attr":  3.14,
		"duration_attr": 2 * time.Second,
		"unknown_attr":  struct{}{},
	})
	require.NotNil(t, ctx)
	require.True(t, span.IsRecording())
	cleanup()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "test_operation", ended[0].Name())

	attrs := attrMap(ended[0].Attributes())
	assert.Equal(t, "value", attrs["string_attr"].AsString())
	assert.Equal(t, int64(42), attrs["int_attr"].AsInt64())
	assert.Equal(t, int64(123), attrs["int64_attr"].AsInt64())
	assert.True(t, attrs["bool_attr"].AsBool())
	assert.InDelta(t, 3.14, attrs["float64_attr"].AsFloat64(), 0.0001)
	assert.Equal(t, "2s", attrs["duration_attr"].AsString())
	assert.Equal(t, "unknown_type", attrs["unknown_attr"].AsString())
	assert.Contains(t, attrs, "duration_ms")
}

func TestTraceOperation_NilAttributes(t *testing.T) {
	recorder := withRecorder(t)

	_, _, cleanup := TraceOperation(context.Background(), "bare", nil)
	cleanup()

	require.Len(t, recorder.Ended(), 1)
}

func TestTraceHelpers(t *testing.T) {
	recorder := withRecorder(t)

	_, _, done := TraceDatabaseOperation(context.Background(), "find_one", "patients")
	done()
	_, _, done = TraceExternalService(context.Background(), "otp", "send")
	done()
	_, _, done = TraceAuditOperation(context.Background(), "insert_batch", 7)
	done()

	ended := recorder.Ended()
	require.Len(t, ended, 3)

	assert.Equal(t, "db.find_one", ended[0].Name())
	assert.Equal(t, "patients", attrMap(ended[0].Attributes())["db.collection"].AsString())
	assert.Equal(t, "mongodb", attrMap(ended[0].Attributes())["db.system"].AsString())

	assert.Equal(t, "otp.send", ended[1].Name())
	assert.Equal(t, "otp", attrMap(ended[1].Attributes())["service.name"].AsString())

	assert.Equal(t, "audit.insert_batch", ended[2].Name())
	assert.Equal(t, int64(7), attrMap(ended[2].Attributes())["audit.batch_size"].AsInt64())
}

func TestRecordErrorInSpan(t *testing.T) {
	recorder := withRecorder(t)

	_, span, done := TraceOperation(context.Background(), "failing", nil)
	RecordErrorInSpan(span, errors.New("boom"), map[string]interface{}{"http.status_code": 502})
	AddSpanAttribute(span, "retry", true)
	done()

	_, span, done = TraceOperation(context.Background(), "fine", nil)
	RecordErrorInSpan(span, nil, map[string]interface{}{"ignored": "yes"})
	done()

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
	attrs := attrMap(ended[0].Attributes())
	assert.Equal(t, int64(502), attrs["http.status_code"].AsInt64())
	assert.True(t, attrs["retry"].AsBool())

	assert.Equal(t, codes.Unset, ended[1].Status().Code)
	assert.NotContains(t, attrMap(ended[1].Attributes()), "ignored")
}
