// Package config defines the connection settings of one named database entry.
package config

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string `yaml:"type" mapstructure:"type"` // "sqlite", "mysql" or "postgres".
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Database string `yaml:"database" mapstructure:"database"` // Database name, or file path for sqlite.
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Sslmode  string `yaml:"sslmode" mapstructure:"sslmode"`
	// LogLevel is the gorm log level: SILENT, ERROR, WARN or INFO.
	LogLevel string     `yaml:"log_level" mapstructure:"log_level"`
	Pool     PoolConfig `yaml:"pool" mapstructure:"pool"`
}
