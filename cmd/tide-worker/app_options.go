package main

import (
	"context"

	"go.uber.org/fx"

	_ "github.com/tigerroll/tide/pkg/tide/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/tide/pkg/tide/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/tide/pkg/tide/adapter/database/gorm/sqlite"

	"github.com/tigerroll/tide/pkg/tide/core/config"
	coremetrics "github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/engine/processor"
	"github.com/tigerroll/tide/pkg/tide/engine/simulator"
	"github.com/tigerroll/tide/pkg/tide/engine/status"
	"github.com/tigerroll/tide/pkg/tide/engine/workflow"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/api"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/metrics"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/publisher"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/repository/inmemory"
	sqlstore "github.com/tigerroll/tide/pkg/tide/infrastructure/repository/sql"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/telemetry"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// GetApplicationOptions loads the configuration and builds the fx options of the worker.
func GetApplicationOptions(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) ([]fx.Option, error) {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Tide.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Tide.System.Logging.Level)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return ApplicationOptions(appCtx, cfg), nil
}

// ApplicationOptions builds the fx options for an already loaded configuration.
func ApplicationOptions(appCtx context.Context, cfg *config.Config) []fx.Option {
	var options []fx.Option

	options = append(options, fx.Supply(
		cfg,
		fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
	))
	options = append(options, logger.Module)
	options = append(options, config.SectionsModule)
	options = append(options, coremetrics.Module)

	if cfg.Tide.Metrics.Enabled {
		options = append(options, metrics.Module)
	}
	if cfg.Tide.Tracing.Enabled {
		options = append(options, telemetry.Module)
	} else {
		options = append(options, fx.Provide(coremetrics.NewNoOpTracer))
	}

	switch cfg.Tide.Store.Type {
	case "sql":
		options = append(options, sqlstore.Module)
	default:
		options = append(options, inmemory.Module)
	}

	options = append(options, publisher.Module)
	options = append(options, status.Module)
	options = append(options, simulator.Module)
	options = append(options, workflow.Module)
	options = append(options, processor.Module)
	options = append(options, fx.Provide(provideQueue))
	options = append(options, api.Module)
	options = append(options, fx.Invoke(registerDispatcher))
	options = append(options, fx.Invoke(registerHTTPServer))
	options = append(options, fx.Invoke(fx.Annotate(registerShutdownOnCancel, fx.ParamTags("", "", `name:"appCtx"`))))

	return options
}
