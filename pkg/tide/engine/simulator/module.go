package simulator

import (
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// NewFromConfig returns a Simulator, or NoOp when simulation is disabled.
func NewFromConfig(cfg *config.Config) port.WorkSimulator {
	sc := cfg.Tide.Simulator
	if !sc.Enabled {
		logger.Infof("Work simulation disabled.")
		return NoOp{}
	}
	return New(sc.UnitSize, sc.MaxElements, sc.MaxConcurrent)
}

// Module provides the WorkSimulator.
var Module = fx.Provide(NewFromConfig)
