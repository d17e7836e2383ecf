package metrics

import (
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/metrics"
)

// Module provides the PrometheusRecorder and adds it to the recorder group.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(fx.Annotate(
		func(r *PrometheusRecorder) metrics.MetricRecorder { return r },
		fx.ResultTags(`group:"metricRecorders"`),
	)),
)
