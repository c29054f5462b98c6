package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GuoMonth/trading-view/internal/config"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const memoryDSN = ":memory:"

// Connect opens the database described by cfg and applies the pool settings
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == "sqlite" && cfg.Path != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		// A single writer avoids SQLITE_BUSY, and an in-memory database only exists per connection
		db.SetMaxOpenConns(1)
		if cfg.Path != memoryDSN {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("set WAL mode: %w", err)
			}
		}
		return db, nil
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}
