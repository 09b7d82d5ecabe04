package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"clob/domain/ledger"
	"clob/domain/orderbook"
	"clob/domain/registry"
	"clob/infra/sequence"
	"clob/service"
)

const token = "test-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	led := ledger.New(ledger.Config{FeeReceiver: "fees"})
	svc := service.NewExchange(led, registry.New(led), nil, nil, sequence.New(0), "router", log)
	if _, err := svc.CreatePool(orderbook.Config{Base: "ETH", Quote: "USDC", Owner: "owner"}); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(New(svc, token, log).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/api/balance?user=alice&currency=ETH")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestDepositOrderAndBookFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/deposit", map[string]any{
		"user": "alice", "currency": "ETH", "amount": 10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d", resp.StatusCode)
	}

	resp, out := doJSON(t, ts, http.MethodPost, "/api/orders", map[string]any{
		"base": "ETH", "quote": "USDC", "owner": "alice",
		"side": "SELL", "type": "LIMIT", "tif": "GTC",
		"price": 1000, "qty": 10,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("place status = %d: %v", resp.StatusCode, out)
	}
	orderID, ok := out["order_id"].(float64)
	if !ok || orderID == 0 {
		t.Fatalf("order_id missing: %v", out)
	}

	resp, out = doJSON(t, ts, http.MethodGet, "/api/book?base=ETH&quote=USDC&levels=5", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("book status = %d", resp.StatusCode)
	}
	asks, _ := out["asks"].([]any)
	if len(asks) != 1 {
		t.Fatalf("asks = %v, want one level", out["asks"])
	}
	lvl := asks[0].(map[string]any)
	if lvl["price"].(float64) != 1000 || lvl["volume"].(float64) != 10 {
		t.Errorf("level = %v", lvl)
	}

	resp, out = doJSON(t, ts, http.MethodGet, "/api/orders?base=ETH&quote=USDC&owner=alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("active orders status = %d", resp.StatusCode)
	}
	if orders, _ := out["orders"].([]any); len(orders) != 1 {
		t.Errorf("orders = %v", out["orders"])
	}

	resp, _ = doJSON(t, ts, http.MethodDelete, "/api/orders", map[string]any{
		"base": "ETH", "quote": "USDC", "owner": "alice", "order_id": orderID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	resp, out = doJSON(t, ts, http.MethodGet, "/api/balance?user=alice&currency=ETH", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("balance query failed")
	}
	if out["available"].(float64) != 10 {
		t.Errorf("balance = %v, want 10 after cancel", out["available"])
	}
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			"unknown pair", http.MethodPost, "/api/orders",
			map[string]any{"base": "BTC", "quote": "USDC", "owner": "a", "side": "BUY", "price": 1, "qty": 1},
			http.StatusNotFound,
		},
		{
			"bad side", http.MethodPost, "/api/orders",
			map[string]any{"base": "ETH", "quote": "USDC", "owner": "a", "side": "HOLD", "price": 1, "qty": 1},
			http.StatusBadRequest,
		},
		{
			"insufficient funds", http.MethodPost, "/api/orders",
			map[string]any{"base": "ETH", "quote": "USDC", "owner": "a", "side": "BUY", "price": 1000, "qty": 10},
			http.StatusPaymentRequired,
		},
		{
			"no liquidity", http.MethodPost, "/api/orders",
			map[string]any{"base": "ETH", "quote": "USDC", "owner": "a", "side": "BUY", "type": "MARKET", "qty": 1},
			http.StatusConflict,
		},
		{
			"cancel unknown order", http.MethodDelete, "/api/orders",
			map[string]any{"base": "ETH", "quote": "USDC", "owner": "a", "order_id": 999},
			http.StatusNotFound,
		},
		{
			"over-withdraw", http.MethodPost, "/api/withdraw",
			map[string]any{"user": "a", "currency": "ETH", "amount": 5},
			http.StatusPaymentRequired,
		},
	}
	for _, tc := range cases {
		resp, out := doJSON(t, ts, tc.method, tc.path, tc.body)
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d (%v)", tc.name, resp.StatusCode, tc.want, out)
		}
	}
}

// Closing the websocket client must tear the subscription down promptly,
// without waiting for the next trade write to fail.
func TestTradeStreamCleanupOnDisconnect(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	led := ledger.New(ledger.Config{FeeReceiver: "fees"})
	svc := service.NewExchange(led, registry.New(led), nil, nil, sequence.New(0), "router", log)
	srv := New(svc, "", log)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/trades"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	waitFor(t, func() bool { return srv.tradeHub.count() == 1 })
	conn.Close()
	waitFor(t, func() bool { return srv.tradeHub.count() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCancelByNonOwnerForbidden(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, ts, http.MethodPost, "/api/deposit", map[string]any{
		"user": "alice", "currency": "ETH", "amount": 10,
	})
	_, out := doJSON(t, ts, http.MethodPost, "/api/orders", map[string]any{
		"base": "ETH", "quote": "USDC", "owner": "alice",
		"side": "SELL", "price": 1000, "qty": 10,
	})
	id := out["order_id"].(float64)

	resp, _ := doJSON(t, ts, http.MethodDelete, "/api/orders", map[string]any{
		"base": "ETH", "quote": "USDC", "owner": "mallory", "order_id": id,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
