package inmemory

import (
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

// NewBaseStatusStore returns the in-memory store behind the StatusStore interface.
func NewBaseStatusStore(clock *timeutil.Clock) repository.StatusStore {
	return NewStatusStore(clock)
}

// Module provides the in-memory store as the undecorated "baseStatusStore".
var Module = fx.Provide(fx.Annotate(
	NewBaseStatusStore,
	fx.ResultTags(`name:"baseStatusStore"`),
))
