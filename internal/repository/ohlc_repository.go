package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const barColumns = `id, symbol, period, ts, open, high, low, close, volume, created_at, updated_at`

// barRow is the stored form of a price bar
type barRow struct {
	ID        int64     `db:"id"`
	Symbol    string    `db:"symbol"`
	Period    int       `db:"period"`
	Timestamp time.Time `db:"ts"`
	Open      float64   `db:"open"`
	High      float64   `db:"high"`
	Low       float64   `db:"low"`
	Close     float64   `db:"close"`
	Volume    float64   `db:"volume"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r barRow) toPriceBar() model.PriceBar {
	return model.PriceBar{
		ID:        r.ID,
		Symbol:    r.Symbol,
		Period:    r.Period,
		Timestamp: model.FormatTimestamp(r.Timestamp),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		CreatedAt: model.FormatTimestamp(r.CreatedAt),
		UpdatedAt: model.FormatTimestamp(r.UpdatedAt),
	}
}

// OHLCRepository handles database operations for price bars
type OHLCRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewOHLCRepository creates a new price bar repository
func NewOHLCRepository(db *sqlx.DB, logger *zap.Logger) *OHLCRepository {
	return &OHLCRepository{
		db:     db,
		logger: logger,
	}
}

// GetAll retrieves every stored bar
func (r *OHLCRepository) GetAll(ctx context.Context) ([]model.PriceBar, error) {
	query := `SELECT ` + barColumns + ` FROM ohlc_data ORDER BY symbol, ts, period`

	bars, err := r.selectBars(ctx, query)
	if err != nil {
		r.logger.Error("Failed to get all bars", zap.Error(err))
		return nil, err
	}

	return bars, nil
}

// GetBySymbol retrieves all bars of a symbol ordered by time
func (r *OHLCRepository) GetBySymbol(ctx context.Context, symbol string) ([]model.PriceBar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM ohlc_data
		WHERE symbol = ?
		ORDER BY ts, period
	`

	bars, err := r.selectBars(ctx, query, symbol)
	if err != nil {
		r.logger.Error("Failed to get bars by symbol",
			zap.Error(err),
			zap.String("symbol", symbol))
		return nil, err
	}

	return bars, nil
}

// GetByDateRange retrieves the bars of a symbol with start <= ts <= end, ascending
func (r *OHLCRepository) GetByDateRange(
	ctx context.Context,
	symbol string,
	start time.Time,
	end time.Time,
) ([]model.PriceBar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM ohlc_data
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts, period
	`

	bars, err := r.selectBars(ctx, query, symbol, start.UTC(), end.UTC())
	if err != nil {
		r.logger.Error("Failed to get bars by date range",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.Time("start", start),
			zap.Time("end", end))
		return nil, err
	}

	return bars, nil
}

// Symbols returns the distinct symbols that have stored bars
func (r *OHLCRepository) Symbols(ctx context.Context) ([]string, error) {
	symbols := []string{}
	err := r.db.SelectContext(ctx, &symbols, `SELECT DISTINCT symbol FROM ohlc_data ORDER BY symbol`)
	if err != nil {
		r.logger.Error("Failed to get symbols", zap.Error(err))
		return nil, err
	}

	return symbols, nil
}

// Upsert inserts a batch of bars in one transaction. A bar that already exists for
// (symbol, period, ts) has its prices and volume replaced and updated_at refreshed.
func (r *OHLCRepository) Upsert(ctx context.Context, bars []model.PriceBar) (int, error) {
	// Using transaction for batch insert
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO ohlc_data (symbol, period, ts, open, high, low, close, volume, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, period, ts)
		DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			updated_at = excluded.updated_at
	`))
	if err != nil {
		r.logger.Error("Failed to prepare statement", zap.Error(err))
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	written := 0
	for _, bar := range bars {
		ts, err := bar.Time()
		if err != nil {
			return 0, err
		}

		_, err = stmt.ExecContext(
			ctx,
			bar.Symbol,
			bar.Period,
			ts,
			bar.Open,
			bar.High,
			bar.Low,
			bar.Close,
			bar.Volume,
			now,
			now,
		)
		if err != nil {
			r.logger.Error("Failed to upsert bar",
				zap.Error(err),
				zap.String("symbol", bar.Symbol),
				zap.String("timestamp", bar.Timestamp))
			return 0, err
		}
		written++
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		r.logger.Error("Failed to commit transaction", zap.Error(err))
		return 0, err
	}

	return written, nil
}

// Ping checks the database connection
func (r *OHLCRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *OHLCRepository) selectBars(ctx context.Context, query string, args ...interface{}) ([]model.PriceBar, error) {
	var rows []barRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select bars: %w", err)
	}

	bars := make([]model.PriceBar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, row.toPriceBar())
	}
	return bars, nil
}
