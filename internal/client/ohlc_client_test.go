package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

func newTestClient(url string) *OHLCClient {
	c := NewOHLCClient(url, "token-123", zap.NewNop())
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return c
}

func TestGetBySymbol_RetriesServerErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ohlc/AAPL" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token-123" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"code":0,"message":"Success","data":{"data":[{"id":1,"symbol":"AAPL","period":86400,` +
			`"timestamp":"2024-01-01T00:00:00Z","open":100,"high":101,"low":99,"close":100.5,"volume":1000,` +
			`"created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}]}}`))
	}))
	defer srv.Close()

	bars, err := newTestClient(srv.URL).GetBySymbol(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(bars) != 1 || bars[0].Close != 100.5 {
		t.Errorf("bars = %+v", bars)
	}
}

func TestGetByDateRange_ClientErrorsAreNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		if r.URL.Query().Get("start") != "2024-01-01" || r.URL.Query().Get("end") != "2024-13-01" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":40002,"message":"Invalid date format","data":null}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	// month 13 passes no layout locally, so bypass the local check with a raw call
	_, err := c.getBars(context.Background(), "/api/ohlc/AAPL/range", map[string][]string{
		"start": {"2024-01-01"},
		"end":   {"2024-13-01"},
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.CodeInvalidDateFormat || apiErr.HTTPStatus != http.StatusBadRequest {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if !IsCode(err, model.CodeInvalidDateFormat) {
		t.Error("IsCode should match")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestGetByDateRange_ValidatesLocally(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetByDateRange(context.Background(), "AAPL", model.OHLCDateRangeRequest{
		Start: "2024-02-01",
		End:   "2024-01-01",
	})
	if !errors.Is(err, model.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("request sent for an invalid range")
	}
}

func TestNullDataYieldsEmptySlice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"message":"Success","data":null}`))
	}))
	defer srv.Close()

	bars, err := newTestClient(srv.URL).GetAll(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if bars == nil || len(bars) != 0 {
		t.Errorf("bars = %#v, want empty slice", bars)
	}

	symbols, err := newTestClient(srv.URL).Symbols(context.Background())
	if err != nil || symbols == nil || len(symbols) != 0 {
		t.Errorf("symbols = %#v, err = %v", symbols, err)
	}
}

func TestServerErrorGivesUpAfterRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":50002,"message":"Database error","data":null}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetAll(context.Background())
	if !IsCode(err, model.CodeDatabaseError) {
		t.Fatalf("expected database error, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestImport_SendsServiceKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/service/ohlc/batch" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Service-Key") != "secret-key" {
			t.Errorf("service key = %q", r.Header.Get("X-Service-Key"))
		}

		var body struct {
			Bars []model.PriceBar `json:"bars"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(model.Success(model.ImportResult{Count: len(body.Bars), Symbols: []string{"AAPL"}}))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Import(context.Background(), []model.PriceBar{
		{Symbol: "AAPL", Period: 60, Timestamp: "2024-01-01T00:00:00Z", Open: 1, High: 1, Low: 1, Close: 1},
	}, "secret-key")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Count != 1 || len(result.Symbols) != 1 {
		t.Errorf("result = %+v", result)
	}
}
