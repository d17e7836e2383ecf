package sql

import (
	"context"
	"time"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/tide/pkg/tide/adapter/database/gorm"
	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/repository/sql/migration"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

const moduleName = "sql-store"

// migrationTimeout bounds schema migration at startup.
const migrationTimeout = time.Minute

// StoreParams defines the dependencies for NewStatusStoreFromConfig.
type StoreParams struct {
	fx.In
	Provider *gormadapter.Provider
	Config   *config.Config
	Clock    *timeutil.Clock
}

// StoreResult tags the store as the undecorated "baseStatusStore".
type StoreResult struct {
	fx.Out
	Store repository.StatusStore `name:"baseStatusStore"`
}

// NewStatusStoreFromConfig opens the connection named by store.db_ref,
// migrates it when auto_migrate is set, and returns the gorm-backed store.
func NewStatusStoreFromConfig(p StoreParams) (StoreResult, error) {
	storeCfg := p.Config.Tide.Store
	conn, err := p.Provider.GetConnection(storeCfg.DBRef)
	if err != nil {
		return StoreResult{}, exception.NewStoreUnavailable(moduleName, "failed to open status database", err)
	}

	if storeCfg.AutoMigrate {
		sqlDB, err := conn.DB.DB()
		if err != nil {
			return StoreResult{}, exception.NewStoreUnavailable(moduleName, "failed to get underlying sql.DB", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), migrationTimeout)
		defer cancel()
		if err := migration.NewMigrator(sqlDB, conn.Config.Type).Up(ctx); err != nil {
			return StoreResult{}, exception.NewStoreUnavailable(moduleName, "failed to migrate status schema", err)
		}
	}
	return StoreResult{Store: NewStatusStore(conn.DB, p.Clock)}, nil
}

// Module provides the connection provider and the gorm store as the
// undecorated "baseStatusStore".
var Module = fx.Options(
	gormadapter.Module,
	fx.Provide(NewStatusStoreFromConfig),
)
