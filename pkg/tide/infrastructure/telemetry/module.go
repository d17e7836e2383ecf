package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

func provideTracerProvider(lc fx.Lifecycle, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	tp, err := NewTracerProvider(context.Background(), cfg.Tide.Tracing)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Infof("Flushing trace exporter.")
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

func provideMeterProvider(lc fx.Lifecycle, cfg *config.Config) (*sdkmetric.MeterProvider, error) {
	mp, err := NewMeterProvider(context.Background(), cfg.Tide.Tracing)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Infof("Flushing metric exporter.")
			return mp.Shutdown(ctx)
		},
	})
	return mp, nil
}

func provideRecorder(mp metric.MeterProvider) (metrics.MetricRecorder, error) {
	r, err := NewOpenTelemetryRecorder(mp)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Module provides the OTLP-backed Tracer and adds an OTel MetricRecorder to the recorder group.
var Module = fx.Options(
	fx.Provide(
		provideTracerProvider,
		provideMeterProvider,
		func(tp *sdktrace.TracerProvider) trace.TracerProvider { return tp },
		func(mp *sdkmetric.MeterProvider) metric.MeterProvider { return mp },
	),
	fx.Provide(fx.Annotate(
		NewOpenTelemetryTracer,
		fx.As(new(metrics.Tracer)),
	)),
	fx.Provide(fx.Annotate(
		provideRecorder,
		fx.ResultTags(`group:"metricRecorders"`),
	)),
)
