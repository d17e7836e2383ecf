// Package telemetry exports traces and metrics over OTLP.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// InstrumentationName names the tracer and meter.
const InstrumentationName = "github.com/tigerroll/tide"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from the given provider.
func NewOpenTelemetryTracer(tp trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tp.Tracer(InstrumentationName)}
}

// StartDeliverySpan starts a consumer span for one delivery.
func (t *OpenTelemetryTracer) StartDeliverySpan(ctx context.Context, queue, deliveryID string, dequeueCount int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "tide.delivery "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.id", deliveryID),
			attribute.Int("tide.dequeue_count", dequeueCount),
		),
	)
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		logger.Debugf("Tracer: no active span for error in module %s: %v", module, err)
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("tide.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(values map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
