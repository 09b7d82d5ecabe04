// Package httpserver is the router surface: a JSON HTTP API for order and
// balance operations plus a websocket trade stream. It is the only path by
// which end users reach the order books.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"clob/domain/ledger"
	"clob/domain/orderbook"
	"clob/domain/registry"
	"clob/service"
)

type Server struct {
	svc       *service.Exchange
	tradeHub  *hub[orderbook.Trade]
	upgrader  websocket.Upgrader
	authToken string
	log       *logrus.Logger
}

func New(svc *service.Exchange, authToken string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		svc:       svc,
		tradeHub:  newHub[orderbook.Trade](),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		authToken: authToken,
		log:       log,
	}
	svc.OnTrade(s.tradeHub.Broadcast)
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/deposit", s.withAuth(http.HandlerFunc(s.handleDeposit)))
	mux.Handle("POST /api/withdraw", s.withAuth(http.HandlerFunc(s.handleWithdraw)))
	mux.Handle("POST /api/orders", s.withAuth(http.HandlerFunc(s.handlePlaceOrder)))
	mux.Handle("DELETE /api/orders", s.withAuth(http.HandlerFunc(s.handleCancelOrder)))
	mux.Handle("GET /api/book", s.withAuth(http.HandlerFunc(s.handleDepth)))
	mux.Handle("GET /api/orders", s.withAuth(http.HandlerFunc(s.handleActiveOrders)))
	mux.Handle("GET /api/balance", s.withAuth(http.HandlerFunc(s.handleBalance)))
	mux.Handle("GET /ws/trades", s.withAuth(http.HandlerFunc(s.handleTradeStream)))
	return mux
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" && r.Header.Get("Authorization") != "Bearer "+s.authToken {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------- Handlers ----------------

type balanceRequest struct {
	User     string `json:"user"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Deposit(req.User, req.Currency, req.Amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Withdraw(req.User, req.Currency, req.Amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type orderRequest struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Owner string `json:"owner"`
	Side  string `json:"side"` // BUY | SELL
	Type  string `json:"type"` // LIMIT | MARKET
	TIF   string `json:"tif"`  // GTC | IOC | FOK | PO
	Price int64  `json:"price"`
	Qty   int64  `json:"qty"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var id uint64
	if req.Type == "MARKET" {
		id, err = s.svc.PlaceMarketOrder(req.Base, req.Quote, req.Owner, side, req.Qty)
	} else {
		tif, tifErr := parseTIF(req.TIF)
		if tifErr != nil {
			writeError(w, http.StatusBadRequest, tifErr)
			return
		}
		id, err = s.svc.PlaceOrder(req.Base, req.Quote, req.Owner, side, req.Price, req.Qty, tif)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "order_id": id})
}

type cancelRequest struct {
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Owner   string `json:"owner"`
	OrderID uint64 `json:"order_id"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.CancelOrder(req.Base, req.Quote, req.Owner, req.OrderID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, _ := strconv.Atoi(q.Get("levels"))
	if count <= 0 {
		count = 20
	}
	bids, asks, err := s.svc.Depth(q.Get("base"), q.Get("quote"), count)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids, "asks": asks})
}

func (s *Server) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := s.svc.UserActiveOrders(q.Get("base"), q.Get("quote"), q.Get("owner"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      q.Get("user"),
		"currency":  q.Get("currency"),
		"available": s.svc.Balance(q.Get("user"), q.Get("currency")),
	})
}

func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.tradeHub.Subscribe(64)
	defer s.tradeHub.Unsubscribe(sub)

	// Drain control frames so a disconnect is noticed without waiting for
	// the next trade write.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.tradeHub.Unsubscribe(sub)
				return
			}
		}
	}()

	for trade := range sub.ch {
		if err := conn.WriteJSON(trade); err != nil {
			return
		}
	}
}

// ---------------- Helpers ----------------

func parseSide(s string) (orderbook.Side, error) {
	switch s {
	case "BUY":
		return orderbook.Buy, nil
	case "SELL":
		return orderbook.Sell, nil
	default:
		return 0, errors.New("side must be BUY or SELL")
	}
}

func parseTIF(s string) (orderbook.TimeInForce, error) {
	switch s {
	case "", "GTC":
		return orderbook.GTC, nil
	case "IOC":
		return orderbook.IOC, nil
	case "FOK":
		return orderbook.FOK, nil
	case "PO":
		return orderbook.PostOnly, nil
	default:
		return 0, errors.New("unknown time-in-force")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrPoolNotFound),
		errors.Is(err, orderbook.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orderbook.ErrNotOrderOwner),
		errors.Is(err, orderbook.ErrUnauthorizedCaller),
		errors.Is(err, ledger.ErrUnauthorizedOperator):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientLocked),
		errors.Is(err, orderbook.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, orderbook.ErrNoLiquidity),
		errors.Is(err, orderbook.ErrInsufficientFill),
		errors.Is(err, orderbook.ErrWouldTakeLiquidity):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
