package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// APIError is a response the server answered with a non-success code
type APIError struct {
	Code       model.Code
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ohlc api error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Option customizes an OHLCClient
type Option func(*OHLCClient)

// WithHTTPClient replaces the default http client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *OHLCClient) {
		c.httpClient = httpClient
	}
}

// WithMaxElapsedTime bounds how long a call keeps retrying
func WithMaxElapsedTime(d time.Duration) Option {
	return func(c *OHLCClient) {
		c.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = d
			return b
		}
	}
}

// OHLCClient reads and imports price bars over the HTTP API
type OHLCClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewOHLCClient creates a new client. token is sent as a bearer token when not empty.
func NewOHLCClient(baseURL, token string, logger *zap.Logger, opts ...Option) *OHLCClient {
	c := &OHLCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAll retrieves every stored bar
func (c *OHLCClient) GetAll(ctx context.Context) ([]model.PriceBar, error) {
	return c.getBars(ctx, "/api/ohlc", nil)
}

// GetBySymbol retrieves the bars of one symbol
func (c *OHLCClient) GetBySymbol(ctx context.Context, symbol string) ([]model.PriceBar, error) {
	return c.getBars(ctx, "/api/ohlc/"+url.PathEscape(symbol), nil)
}

// GetByDateRange retrieves the bars of one symbol inside the inclusive range.
// The range is checked locally before any request is sent.
func (c *OHLCClient) GetByDateRange(
	ctx context.Context,
	symbol string,
	req model.OHLCDateRangeRequest,
) ([]model.PriceBar, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("start", req.Start)
	query.Set("end", req.End)
	return c.getBars(ctx, "/api/ohlc/"+url.PathEscape(symbol)+"/range", query)
}

// Symbols retrieves the symbols that have stored bars
func (c *OHLCClient) Symbols(ctx context.Context) ([]string, error) {
	symbols, err := call[[]string](ctx, c, http.MethodGet, "/api/ohlc/symbols", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if symbols == nil {
		return []string{}, nil
	}
	return *symbols, nil
}

// Import sends a batch of bars to the service import route
func (c *OHLCClient) Import(ctx context.Context, bars []model.PriceBar, serviceKey string) (*model.ImportResult, error) {
	body := struct {
		Bars []model.PriceBar `json:"bars"`
	}{Bars: bars}

	headers := map[string]string{"X-Service-Key": serviceKey}
	result, err := call[model.ImportResult](ctx, c, http.MethodPost, "/api/service/ohlc/batch", nil, body, headers)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &model.ImportResult{}, nil
	}
	return result, nil
}

func (c *OHLCClient) getBars(ctx context.Context, path string, query url.Values) ([]model.PriceBar, error) {
	resp, err := call[model.OHLCResponse](ctx, c, http.MethodGet, path, query, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Data == nil {
		return []model.PriceBar{}, nil
	}
	return resp.Data, nil
}

// call sends one request, retrying network failures, 5xx and 429 answers, and decodes the envelope
func call[T any](
	ctx context.Context,
	c *OHLCClient,
	method, path string,
	query url.Values,
	body interface{},
	headers map[string]string,
) (*T, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var data *T
	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		var envelope model.APIResponse[T]
		decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return apiError(resp.StatusCode, envelope, decodeErr)
		}
		if decodeErr != nil {
			if resp.StatusCode != http.StatusOK {
				return backoff.Permanent(apiError(resp.StatusCode, envelope, decodeErr))
			}
			return backoff.Permanent(fmt.Errorf("decode response: %w", decodeErr))
		}
		if !envelope.OK() {
			return backoff.Permanent(apiError(resp.StatusCode, envelope, nil))
		}

		data = envelope.Data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("OHLC request failed, retrying",
			zap.Error(err),
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		c.logger.Error("OHLC request failed",
			zap.Error(err),
			zap.String("method", method),
			zap.String("path", path))
		return nil, err
	}
	return data, nil
}

func apiError[T any](status int, envelope model.APIResponse[T], decodeErr error) *APIError {
	if decodeErr != nil || envelope.Code == model.CodeSuccess {
		return &APIError{
			Code:       codeForStatus(status),
			Message:    http.StatusText(status),
			HTTPStatus: status,
		}
	}
	return &APIError{
		Code:       envelope.Code,
		Message:    envelope.Message,
		HTTPStatus: status,
	}
}

// codeForStatus picks a response code for answers that carried no envelope
func codeForStatus(status int) model.Code {
	switch status {
	case http.StatusBadRequest:
		return model.CodeBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.CodeUnauthorized
	case http.StatusNotFound:
		return model.CodeNotFound
	case http.StatusTooManyRequests:
		return model.CodeTooManyRequests
	default:
		return model.CodeInternalServerError
	}
}

// IsCode reports whether err is an APIError carrying code
func IsCode(err error, code model.Code) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
