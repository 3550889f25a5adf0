package sqlite

import (
	"fmt"
	"log/slog"

	"github.com/Tonic56/stock-trading-simulator/storage/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New opens a file backed SQLite database for local runs. It returns the same
// Storage type as the postgres backend so the rest of the app is unaware of
// which driver is in use.
func New(path string) (*postgres.Storage, error) {
	const op = "storage/sqlite"

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open %q: %w", op, path, err)
	}

	// sqlite allows a single writer at a time.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := postgres.Migrate(db); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	slog.Info("sqlite storage ready", "path", path)

	return &postgres.Storage{DB: db}, nil
}
