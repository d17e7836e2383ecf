// Package metrics provides the Prometheus implementation of the engine's
// MetricRecorder and the handler exposing it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	deliveriesInFlight *prometheus.GaugeVec
	deliveryDuration   *prometheus.HistogramVec
	deliveryOutcomes   *prometheus.CounterVec
	redeliveries       *prometheus.CounterVec
	poisoned           *prometheus.CounterVec
	workUnits          prometheus.Counter
	statusWrites       *prometheus.CounterVec
	publishes          *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		deliveriesInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tide_deliveries_in_flight",
			Help: "Deliveries currently being processed.",
		}, []string{"queue"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tide_delivery_duration_seconds",
			Help:    "Duration of delivery processing by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue", "outcome"}),
		deliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tide_deliveries_total",
			Help: "Total deliveries by outcome.",
		}, []string{"queue", "outcome"}),
		redeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tide_redeliveries_total",
			Help: "Total redeliveries of previously failed messages.",
		}, []string{"queue"}),
		poisoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tide_poison_messages_total",
			Help: "Total messages moved to the poison destination.",
		}, []string{"queue"}),
		workUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tide_work_units_total",
			Help: "Total work units completed by the resumption loop.",
		}),
		statusWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tide_status_writes_total",
			Help: "Total persisted status writes by status.",
		}, []string{"status"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tide_status_publishes_total",
			Help: "Total status publishes by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		r.deliveriesInFlight,
		r.deliveryDuration,
		r.deliveryOutcomes,
		r.redeliveries,
		r.poisoned,
		r.workUnits,
		r.statusWrites,
		r.publishes,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) RecordDeliveryStart(ctx context.Context, queue string) {
	r.deliveriesInFlight.WithLabelValues(queue).Inc()
}

func (r *PrometheusRecorder) RecordDeliveryEnd(ctx context.Context, queue, outcome string, duration time.Duration) {
	r.deliveriesInFlight.WithLabelValues(queue).Dec()
	r.deliveryOutcomes.WithLabelValues(queue, outcome).Inc()
	r.deliveryDuration.WithLabelValues(queue, outcome).Observe(duration.Seconds())
	logger.Debugf("Metrics: delivery on '%s' ended as %s after %.3fs", queue, outcome, duration.Seconds())
}

func (r *PrometheusRecorder) RecordWorkUnit(ctx context.Context) {
	r.workUnits.Inc()
}

func (r *PrometheusRecorder) RecordStatusWrite(ctx context.Context, status string) {
	r.statusWrites.WithLabelValues(status).Inc()
}

func (r *PrometheusRecorder) RecordPublish(ctx context.Context, result string) {
	r.publishes.WithLabelValues(result).Inc()
}

func (r *PrometheusRecorder) RecordRedelivery(ctx context.Context, queue string) {
	r.redeliveries.WithLabelValues(queue).Inc()
}

func (r *PrometheusRecorder) RecordPoison(ctx context.Context, queue string) {
	r.poisoned.WithLabelValues(queue).Inc()
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
