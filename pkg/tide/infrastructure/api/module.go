package api

import (
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/engine/workflow"
)

// HandlerParams defines the dependencies for NewHandlerFromConfig.
type HandlerParams struct {
	fx.In
	Store     repository.StatusStore
	Enqueuer  port.Enqueuer
	Workflows *workflow.Orchestrator `optional:"true"`
	Config    *config.Config
}

// NewHandlerFromConfig builds the API handler for the configured partition and queue.
func NewHandlerFromConfig(p HandlerParams) *Handler {
	var workflows WorkflowReader
	if p.Workflows != nil {
		workflows = p.Workflows
	}
	return NewHandler(p.Store, p.Enqueuer, workflows, p.Config.Tide.Store.Partition, p.Config.Tide.Queue.Name)
}

// Module provides the API Handler.
var Module = fx.Provide(NewHandlerFromConfig)
