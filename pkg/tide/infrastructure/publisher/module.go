package publisher

import (
	"context"

	"go.uber.org/fx"

	storageConfig "github.com/tigerroll/tide/pkg/tide/adapter/storage/config"
	"github.com/tigerroll/tide/pkg/tide/adapter/storage/gcs"
	"github.com/tigerroll/tide/pkg/tide/adapter/storage/local"
	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/publisher/hub"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

const moduleName = "publisher"

// PublisherParams defines the dependencies for NewStatusPublisher.
type PublisherParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Clock     *timeutil.Clock
	Hub       *hub.Hub
	Recorder  metrics.MetricRecorder
}

// NewStatusPublisher assembles the publish pipeline: an AsyncPublisher in
// front of the hub and, when configured, the history archive.
func NewStatusPublisher(p PublisherParams) (port.StatusPublisher, error) {
	sinks := []port.StatusPublisher{p.Hub}

	writer, err := newHistoryWriter(p.Lifecycle, p.Config.Tide.History)
	if err != nil {
		return nil, err
	}
	if writer != nil {
		prefix := p.Config.Tide.History.Prefix
		if prefix == "" {
			prefix = p.Config.Tide.Queue.HistoryName()
		}
		sinks = append(sinks, NewHistoryArchiver(prefix, p.Clock, writer))
	}

	async := NewAsyncPublisher(p.Config.Tide.Publisher.BufferSize, NewMultiPublisher(sinks...), p.Recorder)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			async.Close()
			return nil
		},
	})
	return async, nil
}

func newHistoryWriter(lc fx.Lifecycle, hc config.HistoryConfig) (port.ObjectWriter, error) {
	switch hc.Type {
	case "", "none":
		logger.Debugf("History archive disabled.")
		return nil, nil
	case "local":
		w, err := local.NewWriter(storageConfig.StorageConfig{Type: hc.Type, BaseDir: hc.BaseDir})
		if err != nil {
			return nil, exception.NewTideError(moduleName, "failed to prepare local history directory", err, false)
		}
		return w, nil
	case "gcs":
		w, err := gcs.NewWriter(context.Background(), storageConfig.StorageConfig{
			Type:            hc.Type,
			BucketName:      hc.Bucket,
			CredentialsFile: hc.CredentialsFile,
		})
		if err != nil {
			return nil, exception.NewTideError(moduleName, "failed to create gcs history writer", err, false)
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return w.Close()
			},
		})
		return w, nil
	}
	return nil, exception.NewTideErrorf(moduleName, "unknown history type '%s'", hc.Type)
}

// Module provides the Hub and the StatusPublisher built on it.
var Module = fx.Options(
	hub.Module,
	fx.Provide(NewStatusPublisher),
)
