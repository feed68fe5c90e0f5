// Package ibgw is an HTTP client for a local brokerage gateway process
// (IB-gateway style sidecar). It implements the broker collaborator
// interfaces over the gateway's small REST surface.
package ibgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rustyeddy/sellwatch/broker"
	"github.com/rustyeddy/sellwatch/market"
)

// DefaultBaseURL points at a gateway on the local machine. Common IB
// gateway ports: 4001 (gateway), 7496 (TWS), 7497 (TWS paper).
const DefaultBaseURL = "http://127.0.0.1:4001"

// Client talks to the gateway. It is safe for concurrent use; pacing
// discipline is the caller's job (the backfill controller).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option adjusts client construction.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client (tests, custom
// timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets a bearer token for gateways that require one.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates a gateway client. An empty baseURL falls back to
// DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiBar struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type historyResponse struct {
	Instrument  string   `json:"instrument"`
	Granularity string   `json:"granularity"`
	Bars        []apiBar `json:"bars"`
}

// HistoricalBars fetches up to maxCount bars ending at end (zero time
// means latest), oldest first. A short or empty response near the start
// of history is returned as-is.
func (c *Client) HistoricalBars(ctx context.Context, instrument string, g market.Granularity, end time.Time, maxCount int) (market.Series, error) {
	if instrument == "" {
		return nil, fmt.Errorf("ibgw: instrument is required")
	}
	if !g.Valid() {
		return nil, fmt.Errorf("ibgw: invalid granularity %q", g)
	}

	params := url.Values{}
	params.Set("instrument", instrument)
	params.Set("granularity", string(g))
	if maxCount > 0 {
		params.Set("count", fmt.Sprintf("%d", maxCount))
	}
	if !end.IsZero() {
		params.Set("end", end.UTC().Format(time.RFC3339))
	}

	var hr historyResponse
	if err := c.get(ctx, "/v1/history?"+params.Encode(), &hr); err != nil {
		return nil, err
	}

	bars := make(market.Series, 0, len(hr.Bars))
	for _, ab := range hr.Bars {
		t, err := time.Parse(time.RFC3339, ab.Time)
		if err != nil {
			return nil, fmt.Errorf("ibgw: parse bar time %q: %w", ab.Time, err)
		}
		bars = append(bars, market.Bar{
			Time:   t.UTC(),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: ab.Volume,
		})
	}
	bars.Sort()
	return bars, nil
}

type apiPosition struct {
	Instrument string  `json:"instrument"`
	Quantity   float64 `json:"quantity"`
	AvgCost    float64 `json:"avg_cost"`
}

// Positions returns the account's current holdings.
func (c *Client) Positions(ctx context.Context) ([]broker.Position, error) {
	var raw []apiPosition
	if err := c.get(ctx, "/v1/positions", &raw); err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, broker.Position{
			Instrument: p.Instrument,
			Quantity:   p.Quantity,
			AvgCost:    p.AvgCost,
		})
	}
	return out, nil
}

type apiOrder struct {
	ID         string  `json:"id"`
	Instrument string  `json:"instrument"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Type       string  `json:"type"`
	StopPrice  float64 `json:"stop_price"`
	Status     string  `json:"status"`
}

// OpenOrders returns orders currently working at the venue.
func (c *Client) OpenOrders(ctx context.Context) ([]broker.Order, error) {
	var raw []apiOrder
	if err := c.get(ctx, "/v1/orders", &raw); err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0, len(raw))
	for _, o := range raw {
		out = append(out, broker.Order{
			ID:         o.ID,
			Instrument: o.Instrument,
			Side:       broker.Side(o.Side),
			Quantity:   o.Quantity,
			Type:       o.Type,
			StopPrice:  o.StopPrice,
		})
	}
	return out, nil
}

// PlaceOrder transmits an order through the gateway.
func (c *Client) PlaceOrder(ctx context.Context, o broker.Order) (broker.OrderResult, error) {
	body, err := json.Marshal(apiOrder{
		Instrument: o.Instrument,
		Side:       string(o.Side),
		Quantity:   o.Quantity,
		Type:       o.Type,
		StopPrice:  o.StopPrice,
	})
	if err != nil {
		return broker.OrderResult{}, fmt.Errorf("ibgw: marshal order: %w", err)
	}

	var placed apiOrder
	if err := c.do(ctx, http.MethodPost, "/v1/orders", bytes.NewReader(body), &placed); err != nil {
		return broker.OrderResult{}, err
	}
	return broker.OrderResult{OrderID: placed.ID, Status: placed.Status}, nil
}

// CancelOrder cancels a working order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), nil, nil)
}

// OrderStatus reports the current status of an order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (string, error) {
	var o apiOrder
	if err := c.get(ctx, "/v1/orders/"+url.PathEscape(orderID), &o); err != nil {
		return "", err
	}
	return o.Status, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ibgw: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ibgw: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("ibgw: %s %s: %w", method, path, broker.ErrPacing)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("ibgw: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ibgw: decode response: %w", err)
	}
	return nil
}
