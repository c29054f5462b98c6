package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GuoMonth/trading-view/internal/events"
	"github.com/GuoMonth/trading-view/internal/model"

	"go.uber.org/zap"
)

var (
	ErrInvalidSymbol     = errors.New("symbol is required")
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrInvalidRange      = errors.New("invalid date range")
	ErrNoBars            = errors.New("no bars provided")
	ErrInvalidBar        = errors.New("invalid bar")
	ErrDatabase          = errors.New("database error")
)

// BarStore persists and queries price bars
type BarStore interface {
	GetAll(ctx context.Context) ([]model.PriceBar, error)
	GetBySymbol(ctx context.Context, symbol string) ([]model.PriceBar, error)
	GetByDateRange(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error)
	Upsert(ctx context.Context, bars []model.PriceBar) (int, error)
	Symbols(ctx context.Context) ([]string, error)
}

// Broadcaster pushes freshly stored bars to live subscribers
type Broadcaster interface {
	Broadcast(bars []model.PriceBar)
}

// OHLCService handles price bar operations
type OHLCService struct {
	store       BarStore
	publisher   events.Publisher
	topic       string
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewOHLCService creates a new price bar service. publisher and broadcaster may be nil.
func NewOHLCService(
	store BarStore,
	publisher events.Publisher,
	topic string,
	broadcaster Broadcaster,
	logger *zap.Logger,
) *OHLCService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &OHLCService{
		store:       store,
		publisher:   publisher,
		topic:       topic,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// ListAll returns every stored bar
func (s *OHLCService) ListAll(ctx context.Context) ([]model.PriceBar, error) {
	bars, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return bars, nil
}

// ListBySymbol returns the bars of one symbol
func (s *OHLCService) ListBySymbol(ctx context.Context, symbol string) ([]model.PriceBar, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}

	bars, err := s.store.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return bars, nil
}

// ListByDateRange returns the bars of one symbol inside the inclusive range, ascending by time
func (s *OHLCService) ListByDateRange(
	ctx context.Context,
	symbol string,
	req model.OHLCDateRangeRequest,
) ([]model.PriceBar, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}

	start, end, err := req.Bounds()
	if err != nil {
		if errors.Is(err, model.ErrInvalidRange) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDateFormat, err)
	}

	bars, err := s.store.GetByDateRange(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return bars, nil
}

// Symbols returns the symbols that have stored bars
func (s *OHLCService) Symbols(ctx context.Context) ([]string, error) {
	symbols, err := s.store.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return symbols, nil
}

// Import validates and stores a batch of bars, then announces each symbol/period group.
// The caller's slice is not modified. Bars repeating a (symbol, period, ts) key earlier in
// the batch are replaced by the later one, so Count is the number of distinct rows written.
// Event and stream failures are logged and do not fail the import.
func (s *OHLCService) Import(ctx context.Context, input []model.PriceBar) (*model.ImportResult, error) {
	if len(input) == 0 {
		return nil, ErrNoBars
	}

	bars := make([]model.PriceBar, len(input))
	copy(bars, input)
	for i := range bars {
		bars[i].Symbol = strings.TrimSpace(bars[i].Symbol)
		if err := bars[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: bar %d: %v", ErrInvalidBar, i, err)
		}
	}
	bars = dedupeBars(bars)

	count, err := s.store.Upsert(ctx, bars)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	groups := groupBars(bars)
	symbols := make([]string, 0, len(groups))
	seen := make(map[string]bool)
	for _, g := range groups {
		if !seen[g.symbol] {
			seen[g.symbol] = true
			symbols = append(symbols, g.symbol)
		}
		s.announce(ctx, g)
	}
	sort.Strings(symbols)

	s.logger.Info("Imported bars",
		zap.Int("count", count),
		zap.Strings("symbols", symbols))

	return &model.ImportResult{Count: count, Symbols: symbols}, nil
}

// announce publishes the import event for g and streams the stored bars
func (s *OHLCService) announce(ctx context.Context, g barGroup) {
	event := events.BarsImported{
		Symbol:     g.symbol,
		Period:     g.period,
		Count:      len(g.bars),
		First:      model.FormatTimestamp(g.first),
		Last:       model.FormatTimestamp(g.last),
		ImportedAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, s.topic, event.Key(), event); err != nil {
		s.logger.Warn("Failed to publish import event",
			zap.Error(err),
			zap.String("symbol", g.symbol))
	}

	if s.broadcaster == nil {
		return
	}

	stored, err := s.store.GetByDateRange(ctx, g.symbol, g.first, g.last)
	if err != nil {
		s.logger.Warn("Failed to reload imported bars for stream",
			zap.Error(err),
			zap.String("symbol", g.symbol))
		s.broadcaster.Broadcast(g.bars)
		return
	}

	matching := stored[:0]
	for _, bar := range stored {
		if bar.Period == g.period {
			matching = append(matching, bar)
		}
	}
	s.broadcaster.Broadcast(matching)
}

type barGroup struct {
	symbol      string
	period      int
	first, last time.Time
	bars        []model.PriceBar
}

// groupBars splits validated bars by symbol and period, keeping first-seen order
func groupBars(bars []model.PriceBar) []barGroup {
	type key struct {
		symbol string
		period int
	}

	index := make(map[key]int)
	var groups []barGroup
	for _, bar := range bars {
		ts, _ := bar.Time()
		k := key{bar.Symbol, bar.Period}

		i, ok := index[k]
		if !ok {
			index[k] = len(groups)
			groups = append(groups, barGroup{symbol: bar.Symbol, period: bar.Period, first: ts, last: ts})
			i = len(groups) - 1
		}

		g := &groups[i]
		if ts.Before(g.first) {
			g.first = ts
		}
		if ts.After(g.last) {
			g.last = ts
		}
		g.bars = append(g.bars, bar)
	}
	return groups
}

// dedupeBars collapses bars sharing symbol, period and instant. The last occurrence wins
// and takes the position of the first.
func dedupeBars(bars []model.PriceBar) []model.PriceBar {
	type key struct {
		symbol string
		period int
		ts     int64
	}

	index := make(map[key]int, len(bars))
	out := make([]model.PriceBar, 0, len(bars))
	for _, bar := range bars {
		ts, _ := bar.Time()
		k := key{bar.Symbol, bar.Period, ts.UnixNano()}
		if i, ok := index[k]; ok {
			out[i] = bar
			continue
		}
		index[k] = len(out)
		out = append(out, bar)
	}
	return out
}
