package providers

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type DatabaseProvider string

const (
	PostgresProvider DatabaseProvider = "postgres"
	SqliteProvider   DatabaseProvider = "sqlite"
)

// Open connects to the relational store. Unique-index violations are
// translated into gorm.ErrDuplicatedKey so the lock store can recognize a lost
// acquisition race.
func Open(provider DatabaseProvider, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch provider {
	case PostgresProvider:
		dialector = postgres.Open(dsn)
	case SqliteProvider:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("invalid database provider: %v", provider)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if provider == SqliteProvider {
		// SQLite allows a single writer; one connection keeps transactions serialized.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
