package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

const moduleName = "telemetry"

// Protocols accepted in TracingConfig.Protocol.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

func newResource(cfg config.TracingConfig) *resource.Resource {
	name := cfg.ServiceName
	if name == "" {
		name = "tide-worker"
	}
	return resource.NewSchemaless(attribute.String("service.name", name))
}

func protocol(cfg config.TracingConfig) (string, error) {
	p := strings.ToLower(cfg.Protocol)
	switch p {
	case "", ProtocolGRPC:
		return ProtocolGRPC, nil
	case ProtocolHTTP:
		return ProtocolHTTP, nil
	}
	return "", exception.NewTideError(moduleName, "unsupported OTLP protocol: "+cfg.Protocol, nil, false)
}

// NewTracerProvider builds a batching tracer provider exporting over OTLP.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	p, err := protocol(cfg)
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	switch p {
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, exception.NewTideError(moduleName, "failed to create trace exporter", err, false)
	}

	logger.Infof("Trace export enabled (%s, %s).", p, cfg.Endpoint)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(cfg)),
	), nil
}

// NewMeterProvider builds a meter provider with a periodic OTLP reader.
func NewMeterProvider(ctx context.Context, cfg config.TracingConfig) (*sdkmetric.MeterProvider, error) {
	p, err := protocol(cfg)
	if err != nil {
		return nil, err
	}

	var exporter sdkmetric.Exporter
	switch p {
	case ProtocolHTTP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	default:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, exception.NewTideError(moduleName, "failed to create metric exporter", err, false)
	}

	interval := time.Duration(cfg.MetricExportIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(newResource(cfg)),
	), nil
}
