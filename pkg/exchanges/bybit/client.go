// Package bybit implements the exchange gateway against the Bybit v5 API.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trade-relay/pkg/exchanges/common"
)

// Config holds Bybit account credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client is a signed REST client for one Bybit account. Derivative orders go
// to the linear (USDT perpetual) category.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

// NewClient creates a Bybit v5 client.
func NewClient(cfg Config) *Client {
	base := "https://api.bybit.com"
	if cfg.Testnet {
		base = "https://api-testnet.bybit.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.timeSync = common.NewTimeSync(func() (int64, error) {
		return c.GetServerTime()
	})
	c.rateLimiter = common.NewRateLimiter(10, time.Second) // order endpoints: 10 req/s
	return c
}

// apiError is a non-zero retCode from the venue.
type apiError struct {
	Code int
	Msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bybit retCode %d: %s", e.Code, e.Msg)
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// FetchPositions returns open positions for a symbol in the linear category.
func (c *Client) FetchPositions(ctx context.Context, symbol string) ([]common.Position, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("bybit: API key/secret required")
	}
	params := url.Values{}
	params.Set("category", string(common.CategoryLinear))
	params.Set("symbol", symbol)

	body, err := c.doSigned(ctx, http.MethodGet, "/v5/position/list", params, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		List []struct {
			Symbol string `json:"symbol"`
			Side   string `json:"side"` // Buy / Sell / None
			Size   string `json:"size"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]common.Position, 0, len(result.List))
	for _, p := range result.List {
		size, err := strconv.ParseFloat(p.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("decode position size %q: %w", p.Size, err)
		}
		positions = append(positions, common.Position{
			Symbol:    p.Symbol,
			Side:      positionSide(p.Side),
			Contracts: size,
		})
	}
	return positions, nil
}

// FetchInstruments lists tradable instruments for a category. The instruments
// endpoint is public; no signature is required.
func (c *Client) FetchInstruments(ctx context.Context, category common.Category) ([]common.Instrument, error) {
	params := url.Values{}
	params.Set("category", string(category))
	params.Set("limit", "1000")

	u := c.baseURL + "/v5/market/instruments-info?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var result struct {
		List []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}

	instruments := make([]common.Instrument, 0, len(result.List))
	for _, ins := range result.List {
		instruments = append(instruments, common.Instrument{
			Symbol:   ins.Symbol,
			Category: category,
			Status:   ins.Status,
		})
	}
	return instruments, nil
}

// CreateMarketOrder places a market order in the linear category.
func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, amount float64) (common.OrderRef, error) {
	return c.createOrder(ctx, orderParams{
		Category:  string(common.CategoryLinear),
		Symbol:    symbol,
		Side:      bybitSide(side),
		OrderType: "Market",
		Qty:       formatFloat(amount),
	})
}

// CreateLimitOrder places a GTC limit order in the linear category.
func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side common.Side, amount, price float64) (common.OrderRef, error) {
	return c.createOrder(ctx, orderParams{
		Category:    string(common.CategoryLinear),
		Symbol:      symbol,
		Side:        bybitSide(side),
		OrderType:   "Limit",
		Qty:         formatFloat(amount),
		Price:       formatFloat(price),
		TimeInForce: "GTC",
	})
}

// CancelAllOrders cancels every resting order for a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("bybit: API key/secret required")
	}
	payload := map[string]string{
		"category": string(common.CategoryLinear),
		"symbol":   symbol,
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/order/cancel-all", nil, payload)
	return err
}

// GetServerTime fetches the venue clock in milliseconds.
func (c *Client) GetServerTime() (int64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/v5/market/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(b))
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, err
	}
	var result struct {
		TimeSecond string `json:"timeSecond"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, err
	}
	sec, err := strconv.ParseInt(result.TimeSecond, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode server time %q: %w", result.TimeSecond, err)
	}
	return sec * 1000, nil
}

// StartTimeSync begins periodic clock synchronization with the venue.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

type orderParams struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

func (c *Client) createOrder(ctx context.Context, p orderParams) (common.OrderRef, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderRef{}, errors.New("bybit: API key/secret required")
	}
	body, err := c.doSigned(ctx, http.MethodPost, "/v5/order/create", nil, p)
	if err != nil {
		return common.OrderRef{}, err
	}
	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return common.OrderRef{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderRef{
		OrderID:       result.OrderID,
		ClientOrderID: result.OrderLinkID,
	}, nil
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// doSigned builds, signs and sends a private v5 request. The v5 signature is
// HMAC-SHA256 over timestamp + apiKey + recvWindow + (queryString | jsonBody).
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values, payload any) (json.RawMessage, error) {
	if c.rateLimiter != nil && c.rateLimiter.ShouldDelay() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	timestamp := strconv.FormatInt(c.now(), 10)
	recvWindow := strconv.FormatInt(c.cfg.RecvWindow, 10)

	var (
		req     *http.Request
		err     error
		signed  string
		rawBody []byte
	)
	switch method {
	case http.MethodGet:
		encoded := params.Encode()
		signed = encoded
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+encoded, nil)
	default:
		rawBody, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		signed = string(rawBody)
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(rawBody))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", sign(timestamp+c.cfg.APIKey+recvWindow+signed, c.cfg.APISecret))

	return c.do(req)
}

// do sends a prepared request and unwraps the v5 response envelope.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeaders(
			res.Header.Get("X-Bapi-Limit-Status"),
			res.Header.Get("X-Bapi-Limit"),
		)
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("bybit %s %s status %d: %s", req.Method, req.URL.Path, res.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.RetCode != 0 {
		return nil, &apiError{Code: env.RetCode, Msg: env.RetMsg}
	}
	return env.Result, nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func bybitSide(side common.Side) string {
	if side == common.SideSell {
		return "Sell"
	}
	return "Buy"
}

func positionSide(s string) common.PositionSide {
	switch strings.ToLower(s) {
	case "buy":
		return common.PositionLong
	case "sell":
		return common.PositionShort
	default:
		return common.PositionNone
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
