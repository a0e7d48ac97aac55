// Package broker is the authenticated REST client for the broker's trade API.
//
// Payloads are passed through verbatim; the client only resolves endpoints,
// attaches the bearer credential and classifies failures.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/tradegate/internal/metrics"
	"github.com/harun/tradegate/pkg/apperr"
)

const DefaultBaseURL = "https://be.broker.ru"

// Kind names a read endpoint of the broker API
type Kind string

const (
	KindPortfolio            Kind = "portfolio"
	KindLimits               Kind = "limits"
	KindOrdersSearch         Kind = "orders_search"
	KindTradesSearch         Kind = "trades_search"
	KindCandles              Kind = "candles"
	KindInstrumentsByTickers Kind = "instruments_by_tickers"
	KindInstrumentsByIsins   Kind = "instruments_by_isins"
	KindInstrumentsByType    Kind = "instruments_by_type"
	KindInstrumentsDiscounts Kind = "instruments_discounts"
	KindTradingStatus        Kind = "trading_status"
	KindDailySchedule        Kind = "daily_schedule"
)

type endpoint struct {
	method string
	path   string
}

const ordersPath = "/trade-api-bff-operations/api/v1/orders"

var endpoints = map[Kind]endpoint{
	KindPortfolio:            {http.MethodGet, "/trade-api-bff-portfolio/api/v1/portfolio"},
	KindLimits:               {http.MethodGet, "/trade-api-bff-limit/api/v1/limits"},
	KindOrdersSearch:         {http.MethodPost, "/trade-api-bff-order-details/api/v1/orders/search"},
	KindTradesSearch:         {http.MethodPost, "/trade-api-bff-trade-details/api/v1/trades/search"},
	KindCandles:              {http.MethodGet, "/trade-api-market-data-connector/api/v1/candles-chart"},
	KindInstrumentsByTickers: {http.MethodPost, "/trade-api-information-service/api/v1/instruments/by-tickers"},
	KindInstrumentsByIsins:   {http.MethodPost, "/trade-api-information-service/api/v1/instruments/by-isins"},
	KindInstrumentsByType:    {http.MethodGet, "/trade-api-information-service/api/v1/instruments/by-type"},
	KindInstrumentsDiscounts: {http.MethodGet, "/trade-api-bff-marginal-indicators/api/v1/instruments-discounts"},
	KindTradingStatus:        {http.MethodGet, "/trade-api-information-service/api/v1/trading-schedule/status"},
	KindDailySchedule:        {http.MethodGet, "/trade-api-information-service/api/v1/trading-schedule/daily-schedule"},
}

// API is the broker surface used by tools and the freshness coordinator
type API interface {
	Fetch(ctx context.Context, kind Kind, query url.Values, body interface{}) (interface{}, error)
	SubmitOrder(ctx context.Context, payload interface{}) (interface{}, error)
	CancelOrder(ctx context.Context, originalID string, payload interface{}) (interface{}, error)
	ReplaceOrder(ctx context.Context, originalID string, payload interface{}) (interface{}, error)
	OrderStatus(ctx context.Context, originalID string) (interface{}, error)
}

// Config configures a Client
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Client calls the broker REST API with a bearer token from Tokens
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a broker client
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		tokens:     cfg.Tokens,
		logger:     cfg.Logger.With().Str("component", "broker").Logger(),
		metrics:    cfg.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// Fetch calls the read endpoint for kind. body is only sent for POST endpoints.
func (c *Client) Fetch(ctx context.Context, kind Kind, query url.Values, body interface{}) (interface{}, error) {
	ep, ok := endpoints[kind]
	if !ok {
		return nil, apperr.InvalidRequest("unknown broker resource: %s", kind)
	}
	if ep.method == http.MethodPost && body == nil {
		body = map[string]interface{}{}
	}
	if ep.method == http.MethodGet {
		body = nil
	}
	return c.do(ctx, string(kind), ep.method, ep.path, query, body)
}

// SubmitOrder places a new order
func (c *Client) SubmitOrder(ctx context.Context, payload interface{}) (interface{}, error) {
	return c.do(ctx, "orders_create", http.MethodPost, ordersPath, nil, payload)
}

// CancelOrder cancels the order identified by originalID
func (c *Client) CancelOrder(ctx context.Context, originalID string, payload interface{}) (interface{}, error) {
	return c.do(ctx, "orders_cancel", http.MethodPost, ordersPath+"/"+url.PathEscape(originalID)+"/cancel", nil, payload)
}

// ReplaceOrder amends price or quantity of the order identified by originalID
func (c *Client) ReplaceOrder(ctx context.Context, originalID string, payload interface{}) (interface{}, error) {
	return c.do(ctx, "orders_replace", http.MethodPost, ordersPath+"/"+url.PathEscape(originalID), nil, payload)
}

// OrderStatus returns the state of the order identified by originalID
func (c *Client) OrderStatus(ctx context.Context, originalID string) (interface{}, error) {
	return c.do(ctx, "order_status", http.MethodGet, ordersPath+"/"+url.PathEscape(originalID), nil, nil)
}

func (c *Client) do(ctx context.Context, name, method, path string, query url.Values, payload interface{}) (interface{}, error) {
	token, err := c.tokens.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	c.logger.Debug().Str("method", method).Str("endpoint", name).Str("path", path).Msg("bcs.request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordBrokerRequest(name, "error", time.Since(started))
		c.logger.Error().Err(err).Str("method", method).Str("endpoint", name).Msg("bcs.response.error")
		return nil, fmt.Errorf("broker request %s failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	status := strconv.Itoa(resp.StatusCode)
	c.metrics.RecordBrokerRequest(name, status, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().
			Str("method", method).
			Str("endpoint", name).
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Dur("elapsed", time.Since(started)).
			Msg("bcs.response.error")
		return nil, apperr.Remote(resp.StatusCode, string(body))
	}

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", name).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("bcs.response.ok")

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var out interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", name, err)
	}
	return out, nil
}
