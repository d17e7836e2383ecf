package status

import (
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
)

// PublishingStoreParams defines the dependencies for NewPublishingStoreProvider.
type PublishingStoreParams struct {
	fx.In
	Inner     repository.StatusStore `name:"baseStatusStore"`
	Publisher port.StatusPublisher
	Recorder  metrics.MetricRecorder
}

// NewPublishingStoreProvider decorates the base store so the rest of the
// application only ever sees a publishing StatusStore.
func NewPublishingStoreProvider(p PublishingStoreParams) repository.StatusStore {
	return NewPublishingStore(p.Inner, p.Publisher, p.Recorder)
}

// Module provides the publishing StatusStore.
var Module = fx.Provide(NewPublishingStoreProvider)
