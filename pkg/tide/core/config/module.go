package config

import (
	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

// NewLoggingConfigProvider exposes only the logging section.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Tide.System.Logging
}

// NewQueueConfigProvider exposes only the queue section.
func NewQueueConfigProvider(cfg *Config) *QueueConfig {
	return &cfg.Tide.Queue
}

// NewStoreConfigProvider exposes only the store section.
func NewStoreConfigProvider(cfg *Config) *StoreConfig {
	return &cfg.Tide.Store
}

// NewPublisherConfigProvider exposes only the publisher section.
func NewPublisherConfigProvider(cfg *Config) *PublisherConfig {
	return &cfg.Tide.Publisher
}

// NewClockProvider builds the clock for the configured time zone.
func NewClockProvider(cfg *Config) *timeutil.Clock {
	return timeutil.NewClock(cfg.Tide.System.Timezone)
}

// SectionsModule provides the config sections and the clock from an already
// supplied *Config.
var SectionsModule = fx.Options(
	fx.Provide(
		NewLoggingConfigProvider,
		NewQueueConfigProvider,
		NewStoreConfigProvider,
		NewPublisherConfigProvider,
		NewClockProvider,
	),
)

// Module loads *Config from the supplied EmbeddedConfig and provides its sections.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	SectionsModule,
)
