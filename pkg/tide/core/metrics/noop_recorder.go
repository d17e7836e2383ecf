package metrics

import (
	"context"
	"time"
)

// NoOpMetricRecorder discards everything.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordDeliveryStart(ctx context.Context, queue string) {}
func (r *NoOpMetricRecorder) RecordDeliveryEnd(ctx context.Context, queue, outcome string, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordWorkUnit(ctx context.Context)                     {}
func (r *NoOpMetricRecorder) RecordStatusWrite(ctx context.Context, status string)   {}
func (r *NoOpMetricRecorder) RecordPublish(ctx context.Context, result string)       {}
func (r *NoOpMetricRecorder) RecordRedelivery(ctx context.Context, queue string)     {}
func (r *NoOpMetricRecorder) RecordPoison(ctx context.Context, queue string)         {}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer creates no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartDeliverySpan(ctx context.Context, queue, deliveryID string, dequeueCount int) (context.Context, func()) {
	return ctx, func() {}
}
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
