package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/GuoMonth/trading-view/internal/model"
)

// Saver writes a slice of bars in one file format
type Saver interface {
	Save(bars []model.PriceBar, w io.Writer) error
	Extension() string
}

// NewSaver returns the saver for format (csv, json or parquet)
func NewSaver(format string) (Saver, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}, nil
	case "json":
		return JSONSaver{}, nil
	case "parquet":
		return ParquetSaver{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (use csv, json or parquet)", format)
	}
}
