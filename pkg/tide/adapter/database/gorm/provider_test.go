package gorm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/tide/pkg/tide/adapter/database/config"
	gormadapter "github.com/tigerroll/tide/pkg/tide/adapter/database/gorm"
	"github.com/tigerroll/tide/pkg/tide/adapter/database/gorm/mysql"
	"github.com/tigerroll/tide/pkg/tide/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/tide/pkg/tide/adapter/database/gorm/sqlite"
)

func TestProvider_SQLiteConnectionIsReused(t *testing.T) {
	p := gormadapter.NewProviderFromAdaptors(map[string]interface{}{
		"status": map[string]interface{}{
			"type":     "sqlite",
			"database": ":memory:",
			"pool":     map[string]interface{}{"max_open_conns": 1},
		},
	})

	first, err := p.GetConnection("status")
	require.NoError(t, err)
	second, err := p.GetConnection("status")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, first.Config.Pool.MaxOpenConns)
	assert.NoError(t, p.CloseAll())
}

func TestProvider_Errors(t *testing.T) {
	p := gormadapter.NewProviderFromAdaptors(map[string]interface{}{
		"unknown": map[string]interface{}{"type": "oracle"},
		"nopath":  map[string]interface{}{"type": "sqlite"},
	})

	_, err := p.GetConnection("missing")
	assert.ErrorContains(t, err, "not found")

	_, err = p.GetConnection("unknown")
	assert.ErrorContains(t, err, "no dialector registered")

	_, err = p.GetConnection("nopath")
	assert.ErrorContains(t, err, "path cannot be empty")
}

func TestProvider_DecodeConfigWeakTypes(t *testing.T) {
	p := gormadapter.NewProviderFromAdaptors(map[string]interface{}{
		"status": map[string]interface{}{"type": "postgres", "host": "db", "port": "5432"},
	})
	cfg, err := p.DecodeConfig("status")
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Port)
}

func TestConnectionStrings(t *testing.T) {
	c := dbconfig.DatabaseConfig{Host: "db", Port: 3306, User: "tide", Password: "p@ss", Database: "status"}

	assert.Equal(t, "tide:p@ss@tcp(db:3306)/status?parseTime=true", mysql.ConnectionString(c))

	c.Port = 5432
	assert.Equal(t, "host=db port=5432 user=tide password=p@ss dbname=status sslmode=disable", postgres.ConnectionString(c))
}
