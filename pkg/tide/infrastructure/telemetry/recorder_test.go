package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tigerroll/tide/pkg/tide/core/config"
	coremetrics "github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/telemetry"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] for %s", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecorder_RecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := telemetry.NewOpenTelemetryRecorder(mp)
	require.NoError(t, err)

	ctx := context.Background()
	r.RecordDeliveryStart(ctx, "items")
	r.RecordWorkUnit(ctx)
	r.RecordWorkUnit(ctx)
	r.RecordWorkUnit(ctx)
	r.RecordStatusWrite(ctx, "Resuming")
	r.RecordPublish(ctx, coremetrics.PublishSent)
	r.RecordRedelivery(ctx, "items")
	r.RecordDeliveryEnd(ctx, "items", coremetrics.OutcomeCompleted, 50*time.Millisecond)

	rm := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, findMetric(rm, "tide.work.units")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "tide.delivery.count")))
	assert.Equal(t, int64(0), sumOf(t, findMetric(rm, "tide.delivery.in_flight")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "tide.delivery.redeliveries")))

	duration := findMetric(rm, "tide.delivery.duration")
	require.NotNil(t, duration)
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestNewTracerProvider_RejectsUnknownProtocol(t *testing.T) {
	_, err := telemetry.NewTracerProvider(context.Background(), config.TracingConfig{Protocol: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = telemetry.NewMeterProvider(context.Background(), config.TracingConfig{Protocol: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewTracerProvider_HTTP(t *testing.T) {
	tp, err := telemetry.NewTracerProvider(context.Background(), config.TracingConfig{
		Protocol: "http",
		Endpoint: "localhost:4318",
		Insecure: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tp.Shutdown(ctx)
}
