// Package mysql registers the MySQL dialect of the GORM adapter.
package mysql

import (
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
)

// erDupEntry is the MySQL server error of a duplicate unique key.
const erDupEntry = 1062

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
	gormadapter.RegisterDuplicateKeyClassifier(IsUniqueViolation)
}

// ConnectionString generates the MySQL DSN. Times are parsed as UTC.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// IsUniqueViolation reports whether err is MySQL error 1062.
func IsUniqueViolation(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == erDupEntry
}
