package gorm

import (
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/tide/pkg/tide/adapter/database/config"
	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// Connection is an open gorm handle together with the settings it was opened with.
type Connection struct {
	Name   string
	Config dbconfig.DatabaseConfig
	DB     *gorm.DB
}

// Close closes the underlying sql.DB.
func (c *Connection) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Provider lazily opens one Connection per named database entry and keeps it
// for the lifetime of the process.
type Provider struct {
	adaptors    map[string]interface{}
	connections map[string]*Connection
	mu          sync.RWMutex
}

// NewProvider creates a Provider over the database section of cfg.
func NewProvider(cfg *config.Config) *Provider {
	return NewProviderFromAdaptors(cfg.Tide.AdaptorConfigs)
}

// NewProviderFromAdaptors creates a Provider over raw database entries.
func NewProviderFromAdaptors(adaptors map[string]interface{}) *Provider {
	return &Provider{
		adaptors:    adaptors,
		connections: make(map[string]*Connection),
	}
}

// DecodeConfig decodes the named raw database entry.
func (p *Provider) DecodeConfig(name string) (dbconfig.DatabaseConfig, error) {
	var dbConfig dbconfig.DatabaseConfig
	raw, ok := p.adaptors[name]
	if !ok {
		return dbConfig, fmt.Errorf("database configuration '%s' not found", name)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &dbConfig,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return dbConfig, err
	}
	if err := decoder.Decode(raw); err != nil {
		return dbConfig, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	return dbConfig, nil
}

// GetConnection returns the named connection, opening it on first use.
func (p *Provider) GetConnection(name string) (*Connection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}

	dbConfig, err := p.DecodeConfig(name)
	if err != nil {
		return nil, err
	}
	db, err := Open(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database '%s': %w", name, err)
	}
	conn = &Connection{Name: name, Config: dbConfig, DB: db}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, dbConfig.Type)
	return conn, nil
}

// CloseAll closes every connection opened by this provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}

// Open builds the dialector registered for dbConfig.Type and applies the pool settings.
func Open(dbConfig dbconfig.DatabaseConfig) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbConfig.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(dbConfig.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dbConfig.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	}
	if dbConfig.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	}
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}
