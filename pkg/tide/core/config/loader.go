package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// LoadConfig builds the configuration in three layers: defaults from NewConfig,
// the embedded YAML on top, then environment variables named after the yaml
// tags (TIDE_QUEUE_MAX_DEQUEUE_COUNT, TIDE_DATABASE_STATUS_HOST, ...).
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()

	// Absent keys keep their defaults since yaml.v3 decodes onto the existing value.
	if err := yaml.Unmarshal(embeddedConfig, cfg); err != nil {
		return nil, exception.NewTideError(moduleName, "failed to unmarshal embedded config", err, false)
	}
	if cfg.Tide.AdaptorConfigs == nil {
		cfg.Tide.AdaptorConfigs = map[string]interface{}{}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewTideError(moduleName, "failed to load config from environment variables", err, false)
	}
	if err := loadAdaptorConfigsFromEnv(cfg.Tide.AdaptorConfigs, "TIDE_DATABASE_"); err != nil {
		return nil, exception.NewTideError(moduleName, "failed to load database config from environment variables", err, false)
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// NewConfigProvider loads *Config and applies the configured log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Tide.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Tide.System.Logging.Level)

	if err := Validate(cfg); err != nil {
		return nil, exception.NewTideError(moduleName, "invalid configuration", err, false)
	}
	return cfg, nil
}

// Validate rejects configurations the worker cannot start with.
func Validate(cfg *Config) error {
	t := cfg.Tide
	switch t.Queue.Type {
	case "memory":
	case "kafka":
		if len(t.Queue.Kafka.Brokers) == 0 {
			return fmt.Errorf("queue type 'kafka' requires at least one broker")
		}
	default:
		return fmt.Errorf("unknown queue type '%s'", t.Queue.Type)
	}
	if t.Queue.MaxDequeueCount <= 0 {
		return fmt.Errorf("queue.max_dequeue_count must be positive, got %d", t.Queue.MaxDequeueCount)
	}
	if t.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got %d", t.Queue.Workers)
	}
	switch t.Store.Type {
	case "memory":
	case "sql":
		if _, ok := t.AdaptorConfigs[t.Store.DBRef]; !ok {
			return fmt.Errorf("store.db_ref '%s' has no entry in the database section", t.Store.DBRef)
		}
	default:
		return fmt.Errorf("unknown store type '%s'", t.Store.Type)
	}
	switch t.History.Type {
	case "", "none", "local":
	case "gcs":
		if t.History.Bucket == "" {
			return fmt.Errorf("history type 'gcs' requires a bucket")
		}
	default:
		return fmt.Errorf("unknown history type '%s'", t.History.Type)
	}
	return nil
}

// loadStructFromEnv walks val and sets every field whose environment variable
// (prefix + upper-cased yaml tag) is present.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadAdaptorConfigsFromEnv overlays TIDE_DATABASE_<NAME>_<KEY>=value onto the
// named database entries. Nested keys use further underscores (POOL_MAX_OPEN_CONNS
// is not supported; pool settings come from YAML).
func loadAdaptorConfigsFromEnv(adaptors map[string]interface{}, prefix string) error {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) != 2 || keyAndField[0] == "" || keyAndField[1] == "" {
			continue
		}
		name := strings.ToLower(keyAndField[0])
		field := strings.ToLower(keyAndField[1])

		entry, ok := adaptors[name].(map[string]interface{})
		if !ok {
			if adaptors[name] != nil {
				return fmt.Errorf("database entry '%s' is not a mapping", name)
			}
			entry = map[string]interface{}{}
		}
		if n, err := strconv.Atoi(parts[1]); err == nil {
			entry[field] = n
		} else {
			entry[field] = parts[1]
		}
		adaptors[name] = entry
	}
	return nil
}

// setField converts value to the kind of field. Slices of strings are comma separated.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element kind %s", field.Type().Elem().Kind())
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
