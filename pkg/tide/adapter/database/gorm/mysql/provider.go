// Package mysql registers the MySQL dialector.
package mysql

import (
	"fmt"

	drivermysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/tide/pkg/tide/adapter/database/config"
	gormadapter "github.com/tigerroll/tide/pkg/tide/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString formats the DSN with the driver's own Config so that
// credentials containing reserved characters are escaped.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	dsn := drivermysql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	return dsn.FormatDSN()
}
