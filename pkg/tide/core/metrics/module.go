package metrics

import "go.uber.org/fx"

// RecorderParams collects the optional recorder backends.
type RecorderParams struct {
	fx.In
	Backends []MetricRecorder `group:"metricRecorders"`
}

// NewRecorder combines all registered backends, or returns a no-op recorder when there are none.
func NewRecorder(p RecorderParams) MetricRecorder {
	if len(p.Backends) == 0 {
		return NewNoOpMetricRecorder()
	}
	return NewCompositeRecorder(p.Backends...)
}

// Module provides the combined MetricRecorder. Backends register into the
// "metricRecorders" group.
var Module = fx.Options(
	fx.Provide(NewRecorder),
)
