package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tigerroll/tide/pkg/tide/core/metrics"
)

// OpenTelemetryRecorder records engine metrics through an OTel meter.
type OpenTelemetryRecorder struct {
	inFlight     metric.Int64UpDownCounter
	duration     metric.Float64Histogram
	deliveries   metric.Int64Counter
	redeliveries metric.Int64Counter
	poisoned     metric.Int64Counter
	workUnits    metric.Int64Counter
	statusWrites metric.Int64Counter
	publishes    metric.Int64Counter
}

// NewOpenTelemetryRecorder creates the instruments on a meter from mp.
func NewOpenTelemetryRecorder(mp metric.MeterProvider) (*OpenTelemetryRecorder, error) {
	meter := mp.Meter(InstrumentationName)
	r := &OpenTelemetryRecorder{}
	var err error

	if r.inFlight, err = meter.Int64UpDownCounter("tide.delivery.in_flight",
		metric.WithDescription("Deliveries currently being processed")); err != nil {
		return nil, err
	}
	if r.duration, err = meter.Float64Histogram("tide.delivery.duration",
		metric.WithDescription("Delivery processing duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.deliveries, err = meter.Int64Counter("tide.delivery.count",
		metric.WithDescription("Deliveries by outcome")); err != nil {
		return nil, err
	}
	if r.redeliveries, err = meter.Int64Counter("tide.delivery.redeliveries",
		metric.WithDescription("Failed deliveries handed back to the queue")); err != nil {
		return nil, err
	}
	if r.poisoned, err = meter.Int64Counter("tide.delivery.poisoned",
		metric.WithDescription("Messages moved to the poison destination")); err != nil {
		return nil, err
	}
	if r.workUnits, err = meter.Int64Counter("tide.work.units",
		metric.WithDescription("Completed work units")); err != nil {
		return nil, err
	}
	if r.statusWrites, err = meter.Int64Counter("tide.status.writes",
		metric.WithDescription("Persisted status writes")); err != nil {
		return nil, err
	}
	if r.publishes, err = meter.Int64Counter("tide.status.publishes",
		metric.WithDescription("Status publishes by result")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OpenTelemetryRecorder) RecordDeliveryStart(ctx context.Context, queue string) {
	r.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (r *OpenTelemetryRecorder) RecordDeliveryEnd(ctx context.Context, queue, outcome string, duration time.Duration) {
	r.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("queue", queue)))
	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	)
	r.deliveries.Add(ctx, 1, attrs)
	r.duration.Record(ctx, duration.Seconds(), attrs)
}

func (r *OpenTelemetryRecorder) RecordWorkUnit(ctx context.Context) {
	r.workUnits.Add(ctx, 1)
}

func (r *OpenTelemetryRecorder) RecordStatusWrite(ctx context.Context, status string) {
	r.statusWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *OpenTelemetryRecorder) RecordPublish(ctx context.Context, result string) {
	r.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (r *OpenTelemetryRecorder) RecordRedelivery(ctx context.Context, queue string) {
	r.redeliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (r *OpenTelemetryRecorder) RecordPoison(ctx context.Context, queue string) {
	r.poisoned.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)
