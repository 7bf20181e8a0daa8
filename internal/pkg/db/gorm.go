package db

import (
	"fmt"
	"strings"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tgo/engage/internal/model"
)

// NewGormDB opens a postgres or sqlite database. SQLite is limited to a single
// connection so that in-memory databases are shared and writes serialize.
func NewGormDB(driver, dsn string) (*gorm.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "postgres"
	}
	dsn = strings.TrimSpace(dsn)

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch driver {
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		gormDB, err := gorm.Open(sqliteDriver.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return gormDB, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// AutoMigrate creates or updates every table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.ChatSession{},
		&model.Agent{},
		&model.AgentQueueEntry{},
		&model.EscalationConfig{},
		&model.SessionTransfer{},
		&model.ChatMessage{},
	)
}
