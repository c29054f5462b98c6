package export

import (
	"fmt"
	"io"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/parquet-go/parquet-go"
)

// parquetBar is the flat row layout of an exported bar
type parquetBar struct {
	ID          int64   `parquet:"id"`
	Symbol      string  `parquet:"symbol,dict"`
	Period      int64   `parquet:"period"`
	TimestampMS int64   `parquet:"timestamp_ms"`
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      float64 `parquet:"volume"`
	CreatedAt   string  `parquet:"created_at"`
	UpdatedAt   string  `parquet:"updated_at"`
}

// ParquetSaver writes bars as a Parquet file
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(bars []model.PriceBar, w io.Writer) error {
	rows := make([]parquetBar, 0, len(bars))
	for _, b := range bars {
		ts, err := b.Time()
		if err != nil {
			return fmt.Errorf("bar %s %s: %w", b.Symbol, b.Timestamp, err)
		}
		rows = append(rows, parquetBar{
			ID:          b.ID,
			Symbol:      b.Symbol,
			Period:      int64(b.Period),
			TimestampMS: ts.UnixMilli(),
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			CreatedAt:   b.CreatedAt,
			UpdatedAt:   b.UpdatedAt,
		})
	}
	return parquet.Write(w, rows)
}
