package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidRange     = errors.New("start must not be after end")
	ErrInvalidBar       = errors.New("invalid price bar")
)

// timestampLayouts lists the accepted textual timestamp formats, most specific first.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	dateLayout,
}

const dateLayout = "2006-01-02"

var validate = validator.New()

// PriceBar is one OHLC observation for a symbol, period and timestamp
type PriceBar struct {
	ID        int64   `json:"id"`
	Symbol    string  `json:"symbol" validate:"required"`
	Period    int     `json:"period" validate:"gt=0"`
	Timestamp string  `json:"timestamp" validate:"required"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume" validate:"gte=0"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// priceBarFields are the keys every encoded PriceBar must carry
var priceBarFields = []string{
	"id", "symbol", "period", "timestamp",
	"open", "high", "low", "close", "volume",
	"created_at", "updated_at",
}

// UnmarshalJSON decodes a PriceBar, rejecting null, objects that omit any field and fields set to null.
func (b *PriceBar) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return fmt.Errorf("%w: bar is null", ErrMissingField)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for _, key := range priceBarFields {
		value, ok := raw[key]
		if !ok || string(value) == "null" {
			return fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	type plain PriceBar
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*b = PriceBar(decoded)
	return nil
}

// Time parses the bar timestamp
func (b PriceBar) Time() (time.Time, error) {
	return ParseTimestamp(b.Timestamp)
}

// CreatedTime parses created_at
func (b PriceBar) CreatedTime() (time.Time, error) {
	return ParseTimestamp(b.CreatedAt)
}

// UpdatedTime parses updated_at
func (b PriceBar) UpdatedTime() (time.Time, error) {
	return ParseTimestamp(b.UpdatedAt)
}

// Validate checks the field rules and the price invariant low <= open, close <= high.
// Lifecycle timestamps are optional on input; when both are set updated_at must not precede created_at.
func (b PriceBar) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBar, err)
	}

	if strings.TrimSpace(b.Symbol) == "" {
		return fmt.Errorf("%w: symbol is blank", ErrInvalidBar)
	}

	if _, err := b.Time(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBar, err)
	}

	if b.Low > b.High {
		return fmt.Errorf("%w: low %v above high %v", ErrInvalidBar, b.Low, b.High)
	}
	if b.Open < b.Low || b.Open > b.High {
		return fmt.Errorf("%w: open %v outside [%v, %v]", ErrInvalidBar, b.Open, b.Low, b.High)
	}
	if b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("%w: close %v outside [%v, %v]", ErrInvalidBar, b.Close, b.Low, b.High)
	}

	if b.CreatedAt != "" && b.UpdatedAt != "" {
		created, err := b.CreatedTime()
		if err != nil {
			return fmt.Errorf("%w: created_at: %v", ErrInvalidBar, err)
		}
		updated, err := b.UpdatedTime()
		if err != nil {
			return fmt.Errorf("%w: updated_at: %v", ErrInvalidBar, err)
		}
		if updated.Before(created) {
			return fmt.Errorf("%w: updated_at before created_at", ErrInvalidBar)
		}
	}

	return nil
}

// OHLCResponse is the list payload of a bar query
type OHLCResponse struct {
	Data []PriceBar `json:"data"`
}

// MarshalJSON encodes an empty result as [] rather than null
func (r OHLCResponse) MarshalJSON() ([]byte, error) {
	bars := r.Data
	if bars == nil {
		bars = []PriceBar{}
	}
	return json.Marshal(struct {
		Data []PriceBar `json:"data"`
	}{Data: bars})
}

// OHLCDateRangeRequest asks for bars between two timestamps, both ends inclusive
type OHLCDateRangeRequest struct {
	Start string `json:"start" form:"start" binding:"required"`
	End   string `json:"end" form:"end" binding:"required"`
}

// Bounds parses the range. A date-only end covers that whole day.
func (r OHLCDateRangeRequest) Bounds() (start, end time.Time, err error) {
	start, err = ParseTimestamp(r.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}

	end, err = ParseTimestamp(r.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if isDateOnly(r.End) {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, r.Start, r.End)
	}

	return start, end, nil
}

// Validate reports whether both ends parse and start <= end
func (r OHLCDateRangeRequest) Validate() error {
	_, _, err := r.Bounds()
	return err
}

// ImportResult is the payload of a batch import
type ImportResult struct {
	Count   int      `json:"count"`
	Symbols []string `json:"symbols"`
}

// ParseTimestamp parses s using the accepted layouts and returns it in UTC
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// FormatTimestamp renders t the way the API emits timestamps
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isDateOnly(s string) bool {
	_, err := time.Parse(dateLayout, strings.TrimSpace(s))
	return err == nil
}
