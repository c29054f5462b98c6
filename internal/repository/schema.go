package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var schemas = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS ohlc_data (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT     NOT NULL,
			period     INTEGER  NOT NULL,
			ts         DATETIME NOT NULL,
			open       REAL     NOT NULL,
			high       REAL     NOT NULL,
			low        REAL     NOT NULL,
			close      REAL     NOT NULL,
			volume     REAL     NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ohlc_data_symbol_period_ts ON ohlc_data(symbol, period, ts)`,
	},
	"pgx": {
		`CREATE TABLE IF NOT EXISTS ohlc_data (
			id         BIGSERIAL PRIMARY KEY,
			symbol     TEXT             NOT NULL,
			period     INTEGER          NOT NULL CHECK (period > 0),
			ts         TIMESTAMPTZ      NOT NULL,
			open       DOUBLE PRECISION NOT NULL,
			high       DOUBLE PRECISION NOT NULL,
			low        DOUBLE PRECISION NOT NULL,
			close      DOUBLE PRECISION NOT NULL,
			volume     DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ      NOT NULL,
			updated_at TIMESTAMPTZ      NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ohlc_data_symbol_period_ts ON ohlc_data(symbol, period, ts)`,
	},
}

// Migrate creates the tables and indexes for the connected driver
func (r *OHLCRepository) Migrate(ctx context.Context) error {
	stmts, ok := schemas[r.db.DriverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", r.db.DriverName())
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			r.logger.Error("Failed to run migration", zap.Error(err))
			return fmt.Errorf("migrate: %w", err)
		}
	}

	r.logger.Info("Database schema ready", zap.String("driver", r.db.DriverName()))
	return nil
}
