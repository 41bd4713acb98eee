// Package binance is a minimal REST client for the Binance spot API: klines
// for market data and MARKET orders for execution.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/spotbot/internal/crypto"
	"github.com/alanyoungcy/spotbot/internal/domain"
)

const (
	MainnetURL = "https://api.binance.com"
	TestnetURL = "https://testnet.binance.vision"

	// maxKlineLimit is the largest page the klines endpoint serves.
	maxKlineLimit = 1000

	orderRateKey = "binance:orders"
)

// Config configures a Client.
type Config struct {
	// BaseURL overrides the endpoint chosen by Sandbox.
	BaseURL    string
	Sandbox    bool
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	Timeout    time.Duration
}

// Client is the REST client for the Binance spot API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	recvWindow time.Duration
	httpClient *http.Client

	limiter      domain.RateLimiter
	ordersPerSec int
}

// NewClient creates a new Binance REST client.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = MainnetURL
		if cfg.Sandbox {
			base = TestnetURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    base,
		auth:       &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		recvWindow: cfg.RecvWindow,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetRateLimiter throttles order placement to perSecond orders per second.
func (c *Client) SetRateLimiter(l domain.RateLimiter, perSecond int) {
	c.limiter = l
	c.ordersPerSec = perSecond
}

// BaseURL returns the REST root in use.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchRecent returns up to limit klines in ascending order, starting at
// since when it is set.
func (c *Client) FetchRecent(ctx context.Context, symbol, interval string, since *time.Time, limit int) ([]domain.Tick, error) {
	if !IsSupportedInterval(interval) {
		return nil, fmt.Errorf("binance: klines %q: %w", interval, domain.ErrUnsupportedInterval)
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	params := url.Values{}
	params.Set("symbol", MarketSymbol(symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	if since != nil {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/klines", params.Encode(), false)
	if err != nil {
		return nil, fmt.Errorf("binance: klines: %w", err)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}
	ticks := make([]domain.Tick, 0, len(rows))
	for i, row := range rows {
		t, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("binance: decode kline %d: %w", i, err)
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

// FetchLatest returns the last two klines; the newest is the forming bar.
func (c *Client) FetchLatest(ctx context.Context, symbol, interval string) ([]domain.Tick, error) {
	return c.FetchRecent(ctx, symbol, interval, nil, 2)
}

// PlaceMarketOrder submits a MARKET order for units of the base asset and
// returns the fill. Anything short of a FILLED order is an ExecutionError.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, units float64) (domain.Fill, error) {
	intent := domain.OrderIntent{Side: side, SizeUnits: units}
	fail := func(err error) (domain.Fill, error) {
		return domain.Fill{}, fmt.Errorf("binance: place order: %w", &domain.ExecutionError{Intent: intent, Err: err})
	}

	if c.limiter != nil && c.ordersPerSec > 0 {
		if err := c.limiter.Wait(ctx, orderRateKey, c.ordersPerSec, time.Second); err != nil {
			return fail(fmt.Errorf("rate limiter: %w", err))
		}
	}

	params := url.Values{}
	params.Set("symbol", MarketSymbol(symbol))
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(units, 'f', -1, 64))
	params.Set("newOrderRespType", "FULL")

	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", c.auth.SignQuery(params, c.recvWindow), true)
	if err != nil {
		return fail(err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fail(fmt.Errorf("decode order response: %w", err))
	}
	if resp.Status != "FILLED" {
		return fail(fmt.Errorf("order %d status %s", resp.OrderID, resp.Status))
	}
	if resp.Side == "" {
		resp.Side = string(side)
	}
	fill, err := resp.toFill()
	if err != nil {
		return fail(err)
	}
	return fill, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest sends a request with query as the URL query string and returns
// the response body.
func (c *Client) doRequest(ctx context.Context, method, path, query string, signed bool) ([]byte, error) {
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		for k, v := range c.auth.Headers() {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Msg == "" {
		apiErr = APIError{Msg: string(body)}
	}

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusTeapot:
		return fmt.Errorf("HTTP %d: %s: %w", statusCode, apiErr, domain.ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %w", apiErr)
	default:
		return fmt.Errorf("HTTP %d: %w", statusCode, apiErr)
	}
}
