package events

import "time"

// BarsImported is published once per symbol and period after a batch import
type BarsImported struct {
	Symbol     string    `json:"symbol"`
	Period     int       `json:"period"`
	Count      int       `json:"count"`
	First      string    `json:"first"`
	Last       string    `json:"last"`
	ImportedAt time.Time `json:"imported_at"`
}

// Key partitions events by symbol
func (e BarsImported) Key() string {
	return e.Symbol
}
