package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/config"
	coremetrics "github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/api"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/metrics"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/publisher/hub"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue/kafka"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue/memory"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// QueueResult exposes the configured transport as both ends of the queue.
type QueueResult struct {
	fx.Out
	Source   port.Source
	Enqueuer port.Enqueuer
}

// provideQueue opens the configured queue transport and closes it on stop.
func provideQueue(lc fx.Lifecycle, cfg *config.Config, recorder coremetrics.MetricRecorder) QueueResult {
	qc := cfg.Tide.Queue
	policy := queue.PolicyFromConfig(qc)

	if qc.Type == "kafka" {
		consumer := kafka.NewConsumer(qc, policy, recorder)
		producer := kafka.NewProducer(qc)
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				var result error
				if err := consumer.Close(); err != nil {
					result = multierror.Append(result, err)
				}
				if err := producer.Close(); err != nil {
					result = multierror.Append(result, err)
				}
				return result
			},
		})
		logger.Infof("Queue transport: kafka topic '%s' (group '%s').", qc.Kafka.Topic, qc.Kafka.GroupID)
		return QueueResult{Source: consumer, Enqueuer: producer}
	}

	q := memory.New(qc.Name, qc.PoisonName(), policy, recorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return q.Close()
		},
	})
	logger.Infof("Queue transport: in-memory queue '%s'.", qc.Name)
	return QueueResult{Source: q, Enqueuer: q}
}

// registerDispatcher starts the workers after every other component is up
// and stops them first on shutdown.
func registerDispatcher(lc fx.Lifecycle, cfg *config.Config, source port.Source, handler port.Handler) {
	d := queue.NewDispatcher(cfg.Tide.Queue.Name, source, handler, cfg.Tide.Queue.Workers)
	lc.Append(fx.Hook{
		OnStart: d.Start,
		OnStop:  d.Stop,
	})
}

// ServerParams defines the dependencies for registerHTTPServer.
type ServerParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     *config.Config
	API        *api.Handler
	Hub        *hub.Hub
	Prometheus *metrics.PrometheusRecorder `optional:"true"`
}

// NewRouter mounts the API, the hub and, when enabled, the metrics endpoint
// behind a CORS handler so browser viewers can negotiate cross-origin.
func NewRouter(p ServerParams) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	p.API.Register(r)
	p.Hub.Register(r)
	if p.Prometheus != nil {
		r.Method(http.MethodGet, p.Config.Tide.Metrics.Path, p.Prometheus.Handler())
	}
	return r
}

func registerHTTPServer(p ServerParams) {
	sc := p.Config.Tide.Server
	if !sc.Enabled {
		logger.Infof("HTTP server disabled.")
		return
	}

	srv := &http.Server{
		Addr:              sc.ListenAddress,
		Handler:           NewRouter(p),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Infof("HTTP server listening on %s", ln.Addr())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("HTTP server stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Shutting down HTTP server.")
			return srv.Shutdown(ctx)
		},
	})
}

// registerShutdownOnCancel stops the application when appCtx is cancelled.
func registerShutdownOnCancel(lc fx.Lifecycle, shutdowner fx.Shutdowner, appCtx context.Context) {
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				select {
				case <-appCtx.Done():
					logger.Infof("Requesting application shutdown.")
					if err := shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				case <-done:
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			close(done)
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}
