package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/GuoMonth/trading-view/internal/model"
)

var csvHeader = []string{
	"id", "symbol", "period", "timestamp",
	"open", "high", "low", "close", "volume",
	"created_at", "updated_at",
}

// CSVSaver writes bars as CSV with a header row
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) Save(bars []model.PriceBar, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			strconv.FormatInt(b.ID, 10),
			b.Symbol,
			strconv.Itoa(b.Period),
			b.Timestamp,
			floatStr(b.Open),
			floatStr(b.High),
			floatStr(b.Low),
			floatStr(b.Close),
			floatStr(b.Volume),
			b.CreatedAt,
			b.UpdatedAt,
		}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
