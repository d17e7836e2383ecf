// Package metrics declares the instrumentation seams of the engine. The
// Prometheus and OpenTelemetry backends live under infrastructure.
package metrics

import (
	"context"
	"time"
)

// Delivery outcomes used as metric labels.
const (
	OutcomeCompleted = "completed"
	OutcomeDelegated = "delegated"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// Publish results used as metric labels.
const (
	PublishSent    = "sent"
	PublishDropped = "dropped"
	PublishFailed  = "failed"
)

// MetricRecorder records engine, queue and publisher events.
type MetricRecorder interface {
	// RecordDeliveryStart records that a worker picked up a delivery.
	RecordDeliveryStart(ctx context.Context, queue string)
	// RecordDeliveryEnd records how a delivery ended and how long it took.
	RecordDeliveryEnd(ctx context.Context, queue, outcome string, duration time.Duration)
	// RecordWorkUnit records one completed unit of the work loop.
	RecordWorkUnit(ctx context.Context)
	// RecordStatusWrite records a persisted status transition.
	RecordStatusWrite(ctx context.Context, status string)
	// RecordPublish records a publish attempt by result.
	RecordPublish(ctx context.Context, result string)
	// RecordRedelivery records a failed delivery handed back to the queue.
	RecordRedelivery(ctx context.Context, queue string)
	// RecordPoison records a message moved to the poison destination.
	RecordPoison(ctx context.Context, queue string)
}

// Tracer wraps deliveries in spans.
type Tracer interface {
	// StartDeliverySpan starts a span for one delivery. The returned func ends it.
	StartDeliverySpan(ctx context.Context, queue, deliveryID string, dequeueCount int) (context.Context, func())
	// RecordError marks the current span as failed.
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds an event to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
