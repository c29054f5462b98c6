package repository

import (
	"context"
	"testing"
	"time"

	"github.com/GuoMonth/trading-view/internal/config"
	"github.com/GuoMonth/trading-view/internal/model"

	"go.uber.org/zap"
)

func newTestRepository(t *testing.T) *OHLCRepository {
	t.Helper()

	db, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: memoryDSN})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewOHLCRepository(db, zap.NewNop())
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func bar(symbol, ts string, close float64) model.PriceBar {
	return model.PriceBar{
		Symbol:    symbol,
		Period:    86400,
		Timestamp: ts,
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
	}
}

func TestUpsertAndGetBySymbol(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	n, err := repo.Upsert(ctx, []model.PriceBar{
		bar("AAPL", "2024-01-02T00:00:00Z", 101),
		bar("AAPL", "2024-01-01T00:00:00Z", 100),
		bar("MSFT", "2024-01-01T00:00:00Z", 300),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 3 {
		t.Fatalf("written = %d, want 3", n)
	}

	bars, err := repo.GetBySymbol(ctx, "AAPL")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].Timestamp != "2024-01-01T00:00:00Z" || bars[1].Timestamp != "2024-01-02T00:00:00Z" {
		t.Errorf("bars not ascending: %s, %s", bars[0].Timestamp, bars[1].Timestamp)
	}
	if bars[0].ID == 0 {
		t.Error("expected an assigned id")
	}
	if bars[0].CreatedAt == "" || bars[0].UpdatedAt == "" {
		t.Error("expected lifecycle timestamps")
	}
}

func TestUpsertReplacesExistingBar(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, []model.PriceBar{bar("AAPL", "2024-01-01T00:00:00Z", 100)}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Upsert(ctx, []model.PriceBar{bar("AAPL", "2024-01-01T00:00:00Z", 150)}); err != nil {
		t.Fatal(err)
	}

	bars, err := repo.GetBySymbol(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	if bars[0].Close != 150 {
		t.Errorf("close = %v, want 150", bars[0].Close)
	}
	if bars[0].UpdatedAt < bars[0].CreatedAt {
		t.Errorf("updated_at %s before created_at %s", bars[0].UpdatedAt, bars[0].CreatedAt)
	}
}

func TestGetByDateRangeIsInclusive(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, []model.PriceBar{
		bar("AAPL", "2024-01-01T00:00:00Z", 100),
		bar("AAPL", "2024-01-02T00:00:00Z", 101),
		bar("AAPL", "2024-01-03T00:00:00Z", 102),
		bar("AAPL", "2024-01-04T00:00:00Z", 103),
	})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	bars, err := repo.GetByDateRange(ctx, "AAPL", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].Close != 101 || bars[1].Close != 102 {
		t.Errorf("unexpected bars %+v", bars)
	}
}

func TestGetAllAndSymbols(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	empty, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}

	_, err = repo.Upsert(ctx, []model.PriceBar{
		bar("MSFT", "2024-01-01T00:00:00Z", 300),
		bar("AAPL", "2024-01-02T00:00:00Z", 101),
		bar("MSFT", "2023-12-31T00:00:00Z", 299),
		bar("AAPL", "2024-01-01T00:00:00Z", 100),
	})
	if err != nil {
		t.Fatal(err)
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// grouped by symbol, then ascending time within each symbol
	want := []struct{ symbol, ts string }{
		{"AAPL", "2024-01-01T00:00:00Z"},
		{"AAPL", "2024-01-02T00:00:00Z"},
		{"MSFT", "2023-12-31T00:00:00Z"},
		{"MSFT", "2024-01-01T00:00:00Z"},
	}
	if len(all) != len(want) {
		t.Fatalf("got %d bars, want %d", len(all), len(want))
	}
	for i, w := range want {
		if all[i].Symbol != w.symbol || all[i].Timestamp != w.ts {
			t.Errorf("bar %d = %s@%s, want %s@%s", i, all[i].Symbol, all[i].Timestamp, w.symbol, w.ts)
		}
	}

	symbols, err := repo.Symbols(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Errorf("symbols = %v", symbols)
	}
}

func TestUpsertKeepsSubSecondTimestamps(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, []model.PriceBar{
		bar("AAPL", "2024-01-01T00:00:00.500Z", 101),
		bar("AAPL", "2024-01-01T00:00:00Z", 100),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	bars, err := repo.GetBySymbol(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].Timestamp != "2024-01-01T00:00:00Z" || bars[1].Timestamp != "2024-01-01T00:00:00.5Z" {
		t.Errorf("timestamps = %s, %s", bars[0].Timestamp, bars[1].Timestamp)
	}
	if bars[1].Close != 101 {
		t.Errorf("sub-second bar close = %v, want 101", bars[1].Close)
	}
}
