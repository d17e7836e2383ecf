package processor

import (
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

// ProcessorParams defines the dependencies for NewMessageProcessorFromConfig.
type ProcessorParams struct {
	fx.In
	Store     repository.StatusStore
	Simulator port.WorkSimulator
	Workflow  port.WorkflowStarter
	Clock     *timeutil.Clock
	Config    *config.Config
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
}

// NewMessageProcessorFromConfig builds the MessageProcessor for the configured queue and partition.
func NewMessageProcessorFromConfig(p ProcessorParams) *MessageProcessor {
	return NewMessageProcessor(
		p.Store,
		p.Simulator,
		p.Workflow,
		p.Clock,
		p.Config.Tide.Store.Partition,
		p.Config.Tide.Queue.Name,
		p.Recorder,
		p.Tracer,
	)
}

// Module provides the MessageProcessor, also as the dispatcher's Handler.
var Module = fx.Options(
	fx.Provide(NewMessageProcessorFromConfig),
	fx.Provide(func(p *MessageProcessor) port.Handler { return p }),
)
