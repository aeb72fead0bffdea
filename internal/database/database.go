package database

import (
	"strings"

	"github.com/tariel-x/apppush/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas are appended to every DSN. Foreign keys must be on for the
// app -> subscription cascade; busy_timeout lets concurrent writers wait
// for the lock instead of failing with SQLITE_BUSY.
var sqlitePragmas = []string{
	"_pragma=foreign_keys(1)",
	"_pragma=busy_timeout(5000)",
	"_pragma=journal_mode(WAL)",
}

func Initialize(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(withPragmas(dbPath)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; one connection keeps statements from
	// tripping over each other while the unique index still decides races.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Auto-migrate models
	if err := db.AutoMigrate(
		&models.User{},
		&models.App{},
		&models.PushSubscription{},
	); err != nil {
		return nil, err
	}

	return db, nil
}

func withPragmas(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(sqlitePragmas, "&")
}
