// Package config holds the configuration model of the tide worker and the
// loader that fills it from embedded YAML, a .env file and the environment.
package config

// EmbeddedConfig holds the raw bytes of the application YAML, passed from main.go.
type EmbeddedConfig []byte

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	// Timezone is the IANA zone used to stamp status records.
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// BackoffConfig describes the exponential redelivery delay applied to failed deliveries.
type BackoffConfig struct {
	InitialIntervalMillis int     `yaml:"initial_interval_millis"`
	MaxIntervalMillis     int     `yaml:"max_interval_millis"`
	Multiplier            float64 `yaml:"multiplier"`
	RandomizationFactor   float64 `yaml:"randomization_factor"`
}

// KafkaConfig configures the kafka transport.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
	// PoisonTopic receives messages that exhausted their attempts. Defaults to Topic + poison suffix.
	PoisonTopic string `yaml:"poison_topic"`
}

// QueueConfig configures the inbound queue and the dispatcher draining it.
type QueueConfig struct {
	// Type selects the transport: "memory" or "kafka".
	Type string `yaml:"type"`
	// Name is the logical queue name.
	Name          string `yaml:"name"`
	PoisonSuffix  string `yaml:"poison_suffix"`
	HistorySuffix string `yaml:"history_suffix"`
	// MaxDequeueCount is the number of deliveries after which a message is poisoned.
	MaxDequeueCount          int           `yaml:"max_dequeue_count"`
	VisibilityTimeoutSeconds int           `yaml:"visibility_timeout_seconds"`
	PollIntervalMillis       int           `yaml:"poll_interval_millis"`
	Workers                  int           `yaml:"workers"`
	Backoff                  BackoffConfig `yaml:"backoff"`
	Kafka                    KafkaConfig   `yaml:"kafka"`
}

// PoisonName returns the name of the dead-letter destination.
func (q QueueConfig) PoisonName() string {
	return q.Name + q.PoisonSuffix
}

// HistoryName returns the name of the history destination.
func (q QueueConfig) HistoryName() string {
	return q.Name + q.HistorySuffix
}

// StoreConfig selects and configures the status store.
type StoreConfig struct {
	// Type is "memory" or "sql".
	Type string `yaml:"type"`
	// DBRef names the entry of the database section used by the sql store.
	DBRef     string `yaml:"db_ref"`
	Partition string `yaml:"partition"`
	// AutoMigrate applies the embedded schema migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// PublisherConfig configures status fan-out to viewers.
type PublisherConfig struct {
	// BufferSize bounds the queue of pending publishes. Publishes beyond it are dropped.
	BufferSize            int    `yaml:"buffer_size"`
	Hub                   string `yaml:"hub"`
	Method                string `yaml:"method"`
	AccessTokenTTLSeconds int    `yaml:"access_token_ttl_seconds"`
	// PublicURL is the externally visible base URL returned by negotiate. Empty uses the request host.
	PublicURL string `yaml:"public_url"`
}

// ServerConfig configures the HTTP listener serving the API, hub and metrics.
type ServerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// SimulatorConfig configures the synthetic work unit.
type SimulatorConfig struct {
	Enabled bool `yaml:"enabled"`
	// UnitSize is the number of elements allocated per intensity level.
	UnitSize int `yaml:"unit_size"`
	// MaxElements caps a single allocation. Zero means no cap.
	MaxElements int `yaml:"max_elements"`
	// MaxConcurrent bounds simultaneous runs. Extra runs are skipped.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// WorkflowConfig configures the local sub-workflow orchestrator.
type WorkflowConfig struct {
	Cities              []string `yaml:"cities"`
	ActivityDelayMillis int      `yaml:"activity_delay_millis"`
}

// HistoryConfig configures the archive of terminal status snapshots.
type HistoryConfig struct {
	// Type is "none", "local" or "gcs".
	Type            string `yaml:"type"`
	BaseDir         string `yaml:"base_dir"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Protocol is "grpc" or "http".
	Protocol                    string `yaml:"protocol"`
	Endpoint                    string `yaml:"endpoint"`
	Insecure                    bool   `yaml:"insecure"`
	ServiceName                 string `yaml:"service_name"`
	MetricExportIntervalSeconds int    `yaml:"metric_export_interval_seconds"`
}

// TideConfig holds everything under the "tide" top-level key.
type TideConfig struct {
	System    SystemConfig    `yaml:"system"`
	Queue     QueueConfig     `yaml:"queue"`
	Store     StoreConfig     `yaml:"store"`
	Publisher PublisherConfig `yaml:"publisher"`
	Server    ServerConfig    `yaml:"server"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	// AdaptorConfigs holds named database connections, decoded by the gorm providers.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root of the application configuration.
type Config struct {
	Tide TideConfig `yaml:"tide"`
	// EmbeddedConfig holds the raw YAML the config was loaded from.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Tide: TideConfig{
			System: SystemConfig{
				Timezone: "America/Chicago",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Queue: QueueConfig{
				Type:                     "memory",
				Name:                     "tide-queue-items",
				PoisonSuffix:             "-poison",
				HistorySuffix:            "-history",
				MaxDequeueCount:          1000,
				VisibilityTimeoutSeconds: 30,
				PollIntervalMillis:       200,
				Workers:                  4,
				Backoff: BackoffConfig{
					InitialIntervalMillis: 1000,
					MaxIntervalMillis:     60000,
					Multiplier:            2.0,
					RandomizationFactor:   0.5,
				},
				Kafka: KafkaConfig{
					Topic:   "tide-queue-items",
					GroupID: "tide-worker",
				},
			},
			Store: StoreConfig{
				Type:        "memory",
				DBRef:       "status",
				Partition:   "Status",
				AutoMigrate: true,
			},
			Publisher: PublisherConfig{
				BufferSize:            256,
				Hub:                   "statushub",
				Method:                "statusupdate",
				AccessTokenTTLSeconds: 3600,
			},
			Server: ServerConfig{
				Enabled:       true,
				ListenAddress: ":8080",
			},
			Simulator: SimulatorConfig{
				Enabled:       true,
				UnitSize:      10_000_000,
				MaxElements:   50_000_000,
				MaxConcurrent: 2,
			},
			Workflow: WorkflowConfig{
				Cities: []string{"Tokyo", "Seattle", "London"},
			},
			History: HistoryConfig{
				Type:    "none",
				BaseDir: "history",
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				Protocol:                    "grpc",
				Endpoint:                    "localhost:4317",
				Insecure:                    true,
				ServiceName:                 "tide-worker",
				MetricExportIntervalSeconds: 30,
			},
			AdaptorConfigs: map[string]interface{}{},
		},
	}
}
