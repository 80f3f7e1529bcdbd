package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"trade-relay/internal/account"
	"trade-relay/internal/engine"
	"trade-relay/internal/events"
	"trade-relay/internal/monitor"
	"trade-relay/pkg/exchanges/common"
)

const (
	testSecret    = "webhook-secret"
	testJWTSecret = "jwt-secret"
	testMarker    = "左側拐點"
)

type stubGateway struct {
	mu        sync.Mutex
	calls     []string
	positions []common.Position
}

func (g *stubGateway) record(name string) {
	g.mu.Lock()
	g.calls = append(g.calls, name)
	g.mu.Unlock()
}

func (g *stubGateway) FetchPositions(ctx context.Context, symbol string) ([]common.Position, error) {
	g.record("fetchPositions")
	return g.positions, nil
}

func (g *stubGateway) FetchInstruments(ctx context.Context, category common.Category) ([]common.Instrument, error) {
	g.record("fetchInstruments")
	return []common.Instrument{{Symbol: "BTCUSDT", Category: category, Status: "Trading"}}, nil
}

func (g *stubGateway) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, amount float64) (common.OrderRef, error) {
	g.record("createMarketOrder")
	return common.OrderRef{OrderID: "ord-7"}, nil
}

func (g *stubGateway) CreateLimitOrder(ctx context.Context, symbol string, side common.Side, amount, price float64) (common.OrderRef, error) {
	g.record("createLimitOrder")
	return common.OrderRef{OrderID: "ord-8"}, nil
}

func (g *stubGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	g.record("cancelAllOrders")
	return nil
}

// slowCancelGateway stalls CancelAllOrders past the caller's patience and
// honors context cancellation on every call, the way the real client does.
type slowCancelGateway struct {
	stubGateway
	stall time.Duration
	done  chan struct{}
}

func (g *slowCancelGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	g.record("cancelAllOrders")
	time.Sleep(g.stall)
	return ctx.Err()
}

func (g *slowCancelGateway) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, amount float64) (common.OrderRef, error) {
	if err := ctx.Err(); err != nil {
		return common.OrderRef{}, err
	}
	ref, err := g.stubGateway.CreateMarketOrder(ctx, symbol, side, amount)
	close(g.done)
	return ref, err
}

func newTestServer(t *testing.T, gw common.Gateway) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	acct := account.New(account.Config{Name: "sub1", DefaultSymbol: "ETHUSDT", DefaultAmount: 0.05}, gw)
	s := NewServer(Options{
		Bus:            events.NewBus(),
		Engine:         engine.New(engine.Policy{SingleReset: false, MinOrderAmount: 0.001}, nil),
		Accounts:       []*account.Account{acct},
		Metrics:        monitor.NewSystemMetrics(),
		APISecret:      testSecret,
		PatternMarkers: []string{testMarker},
		JWTSecret:      testJWTSecret,
		Meta:           SystemMeta{InstanceID: "testinst", Version: "test", StartedAt: time.Now()},
	})
	ts := httptest.NewServer(s.Router)
	t.Cleanup(ts.Close)
	return s, ts
}

func postBody(t *testing.T, url, contentType, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, contentType, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, &stubGateway{})
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestWebhookUnknownSubAccount(t *testing.T) {
	_, ts := newTestServer(t, &stubGateway{})
	resp, _ := postBody(t, ts.URL+"/order/bybit/sub9", "application/json", `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, expected 404", resp.StatusCode)
	}
}

func TestWebhookJSONSignalCreatesOrder(t *testing.T) {
	gw := &stubGateway{}
	s, ts := newTestServer(t, gw)

	payload := fmt.Sprintf(`{"apiSec":%q,"symbol":"BTCUSDT","amount":0.01,"side":"buy"}`, testSecret)
	resp, body := postBody(t, ts.URL+"/order/bybit/sub1", "application/json", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body["createOrderRes"] != true {
		t.Fatalf("createOrderRes=%v, body=%v", body["createOrderRes"], body)
	}
	if msg, _ := body["msg"].(string); !strings.Contains(msg, "ord-7") {
		t.Fatalf("msg=%q, expected order id", msg)
	}

	last := s.Accounts[0].Snapshot()
	if last.LastPosition != "long" || last.LastOrderID != "ord-7" {
		t.Fatalf("state=%+v", last)
	}
}

func TestWebhookJSONRejectsBadSecret(t *testing.T) {
	gw := &stubGateway{}
	_, ts := newTestServer(t, gw)

	resp, _ := postBody(t, ts.URL+"/order/bybit/sub1", "application/json",
		`{"apiSec":"wrong","symbol":"BTCUSDT","amount":0.01,"side":"buy"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected 401", resp.StatusCode)
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.calls) != 0 {
		t.Fatalf("calls=%v, no exchange activity expected", gw.calls)
	}
}

func TestWebhookIgnoresUnrelatedBody(t *testing.T) {
	gw := &stubGateway{}
	s, ts := newTestServer(t, gw)

	resp, body := postBody(t, ts.URL+"/order/bybit/sub1", "text/plain", "hello there")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body["msg"] != "not applicable" {
		t.Fatalf("msg=%v", body["msg"])
	}
	gw.mu.Lock()
	calls := len(gw.calls)
	gw.mu.Unlock()
	if calls != 0 {
		t.Fatalf("exchange touched for an ignored signal")
	}
	if got := s.Metrics.GetSnapshot().SignalsIgnored; got != 1 {
		t.Fatalf("SignalsIgnored=%d", got)
	}
}

func TestWebhookPatternCloseSignal(t *testing.T) {
	gw := &stubGateway{positions: []common.Position{
		{Symbol: "ETHUSDT", Side: common.PositionLong, Contracts: 1.5},
	}}
	s, ts := newTestServer(t, gw)

	resp, body := postBody(t, ts.URL+"/order/bybit/sub1", "text/plain",
		"左側拐點｜多方平倉｜45m｜$1606.11")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body["closedPosition"] != true {
		t.Fatalf("closedPosition=%v, body=%v", body["closedPosition"], body)
	}
	if body["createOrderRes"] != nil {
		t.Fatalf("createOrderRes=%v, a close must not create", body["createOrderRes"])
	}
	if body["case"] != "leftTurn" {
		t.Fatalf("case=%v, expected leftTurn tag on pattern alerts", body["case"])
	}
	if last := s.Accounts[0].Snapshot(); last.LastPosition != "flat" {
		t.Fatalf("LastPosition=%q", last.LastPosition)
	}
}

func TestWebhookValidationErrorStaysInResult(t *testing.T) {
	gw := &stubGateway{}
	_, ts := newTestServer(t, gw)

	// Missing symbol: surfaced in the result message, no exchange calls.
	payload := fmt.Sprintf(`{"apiSec":%q,"amount":0.01,"side":"buy"}`, testSecret)
	resp, body := postBody(t, ts.URL+"/order/bybit/sub1", "application/json", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if msg, _ := body["msg"].(string); msg == "" {
		t.Fatalf("expected failure message, body=%v", body)
	}
	if body["cancelLastOrder"] != nil || body["createOrderRes"] != nil {
		t.Fatalf("steps attempted on invalid input: %v", body)
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.calls) != 0 {
		t.Fatalf("calls=%v", gw.calls)
	}
}

func TestReconcileSurvivesCallerDisconnect(t *testing.T) {
	gw := &slowCancelGateway{stall: 150 * time.Millisecond, done: make(chan struct{})}
	s, ts := newTestServer(t, gw)

	// Caller gives up while the cancel step is still in flight.
	client := &http.Client{Timeout: 50 * time.Millisecond}
	payload := fmt.Sprintf(`{"apiSec":%q,"symbol":"BTCUSDT","amount":0.01,"side":"buy"}`, testSecret)
	if _, err := client.Post(ts.URL+"/order/bybit/sub1", "application/json", bytes.NewBufferString(payload)); err == nil {
		t.Fatal("expected the client to time out")
	}

	// The accepted reconciliation must still run to completion: the create
	// step fires even though the webhook caller is long gone.
	select {
	case <-gw.done:
	case <-time.After(2 * time.Second):
		t.Fatal("create order never ran after caller disconnect")
	}

	last := s.Accounts[0].Snapshot()
	if last.LastOrderID != "ord-7" {
		t.Fatalf("LastOrderID=%q, expected the order placed after disconnect", last.LastOrderID)
	}
}

func TestSummarizeTruncatesOnRuneBoundary(t *testing.T) {
	// 180 bytes of 3-byte runes; a byte-index cut would land mid-rune.
	long := strings.Repeat("左", 60)
	got := summarize([]byte(long))
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("long input not truncated: %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}

	short := "左側拐點｜多方平倉｜45m｜$1606.11"
	if summarize([]byte(short)) != short {
		t.Fatalf("short input must pass through unchanged")
	}
}

func TestSummarizeRedactsSharedSecret(t *testing.T) {
	got := summarize([]byte(`{"apiSec":"hunter2","symbol":"BTCUSDT"}`))
	if strings.Contains(got, "hunter2") {
		t.Fatalf("summary leaks the shared secret: %q", got)
	}
	if !strings.Contains(got, "***") {
		t.Fatalf("summary missing redaction marker: %q", got)
	}
}

func TestStatusAPIRequiresToken(t *testing.T) {
	_, ts := newTestServer(t, &stubGateway{})

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected 401", resp.StatusCode)
	}
}

func TestAuthTokenFlow(t *testing.T) {
	_, ts := newTestServer(t, &stubGateway{})

	resp, _ := postBody(t, ts.URL+"/api/auth/token", "application/json", `{"apiSec":"wrong"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad secret: status=%d", resp.StatusCode)
	}

	resp, body := postBody(t, ts.URL+"/api/auth/token", "application/json",
		fmt.Sprintf(`{"apiSec":%q}`, testSecret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("issue token: status=%d", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("no token in %v", body)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/accounts: %v", err)
	}
	defer authResp.Body.Close()
	if authResp.StatusCode != http.StatusOK {
		t.Fatalf("with token: status=%d", authResp.StatusCode)
	}
	var accounts struct {
		Accounts []account.Status `json:"accounts"`
	}
	if err := json.NewDecoder(authResp.Body).Decode(&accounts); err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	if len(accounts.Accounts) != 1 || accounts.Accounts[0].Name != "sub1" {
		t.Fatalf("accounts=%+v", accounts.Accounts)
	}
}
