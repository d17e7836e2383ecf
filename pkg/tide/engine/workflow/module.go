package workflow

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/config"
)

// NewOrchestratorFromConfig creates the Orchestrator and stops it with the application.
func NewOrchestratorFromConfig(lc fx.Lifecycle, cfg *config.Config) *Orchestrator {
	wc := cfg.Tide.Workflow
	o := NewOrchestrator(wc.Cities, time.Duration(wc.ActivityDelayMillis)*time.Millisecond)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return o.Stop(ctx)
		},
	})
	return o
}

// Module provides the Orchestrator, also as the engine's WorkflowStarter.
var Module = fx.Options(
	fx.Provide(NewOrchestratorFromConfig),
	fx.Provide(func(o *Orchestrator) port.WorkflowStarter { return o }),
)
