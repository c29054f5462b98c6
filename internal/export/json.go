package export

import (
	"encoding/json"
	"io"

	"github.com/GuoMonth/trading-view/internal/model"
)

// JSONSaver writes bars as an indented JSON array
type JSONSaver struct{}

func (JSONSaver) Extension() string { return "json" }

func (JSONSaver) Save(bars []model.PriceBar, w io.Writer) error {
	if bars == nil {
		bars = []model.PriceBar{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(bars)
}
