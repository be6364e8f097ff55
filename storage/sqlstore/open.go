// Package sqlstore persists lending and distribution state through GORM.
// SQLite backs tests and single-node deployments; Postgres backs production.
package sqlstore

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured database. The driver name is matched
// case-insensitively.
func Open(driver, dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: dsn required")
	}
	var dialector gorm.Dialector
	name := strings.ToLower(strings.TrimSpace(driver))
	switch name {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if name != DriverPostgres {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY under
		// concurrent engine calls.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table the stores use.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&poolRecord{},
		&positionRecord{},
		&loanRecord{},
		&distributionRecord{},
		&holderRecord{},
		&claimRecord{},
		&withdrawalRecord{},
	)
}
