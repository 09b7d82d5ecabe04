// Package service is the only write entry point into the system. It
// coordinates the ledger, the pool registry, the intent journal and the
// trade outbox: every accepted mutation is journaled before it executes and
// every fill is durably recorded before it is broadcast.
package service

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"clob/domain/ledger"
	"clob/domain/orderbook"
	"clob/domain/registry"
	"clob/infra/outbox"
	"clob/infra/sequence"
	entrywal "clob/infra/wal/entry"
)

// clock lets journal replay pin operation timestamps to the journaled time,
// so order expiry is evaluated the same way it was originally.
type clock struct {
	override atomic.Int64
}

func (c *clock) Now() int64 {
	if v := c.override.Load(); v != 0 {
		return v
	}
	return time.Now().UnixNano()
}

type Exchange struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	journal  *entrywal.WAL
	box      *outbox.Outbox
	seqGen   *sequence.Sequencer
	clk      *clock

	routerAddr string
	log        *logrus.Logger

	// onTrade fans fills out to in-process subscribers (websocket hub).
	onTrade func(orderbook.Trade)

	replaying bool
}

// NewExchange wires all dependencies. journal and box may be nil in tests.
func NewExchange(
	l *ledger.Ledger,
	reg *registry.Registry,
	journal *entrywal.WAL,
	box *outbox.Outbox,
	seqGen *sequence.Sequencer,
	routerAddr string,
	log *logrus.Logger,
) *Exchange {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Exchange{
		ledger:     l,
		registry:   reg,
		journal:    journal,
		box:        box,
		seqGen:     seqGen,
		clk:        &clock{},
		routerAddr: routerAddr,
		log:        log,
	}
}

func (e *Exchange) OnTrade(fn func(orderbook.Trade)) { e.onTrade = fn }

func (e *Exchange) Ledger() *ledger.Ledger       { return e.ledger }
func (e *Exchange) Registry() *registry.Registry { return e.registry }

// CreatePool registers a trading pair. The book's clock and router are owned
// by the exchange so replay stays deterministic.
func (e *Exchange) CreatePool(cfg orderbook.Config) (*orderbook.OrderBook, error) {
	cfg.Router = e.routerAddr
	cfg.Now = e.clk.Now
	book, err := e.registry.CreatePool(cfg)
	if err != nil {
		return nil, err
	}
	book.OnTrade(e.recordTrade)
	return book, nil
}

// ---------------- Commands ----------------

func (e *Exchange) Deposit(user, currency string, amount int64) error {
	e.append(entrywal.RecordDeposit, fmt.Sprintf("%s|%s|%d", user, currency, amount))
	if err := e.ledger.Deposit(currency, amount, user); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"user":     user,
		"currency": currency,
		"amount":   amount,
	}).Info("deposit")
	return nil
}

func (e *Exchange) Withdraw(user, currency string, amount int64) error {
	e.append(entrywal.RecordWithdraw, fmt.Sprintf("%s|%s|%d", user, currency, amount))
	if err := e.ledger.Withdraw(currency, amount, user); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"user":     user,
		"currency": currency,
		"amount":   amount,
	}).Info("withdraw")
	return nil
}

func (e *Exchange) PlaceOrder(base, quote, owner string, side orderbook.Side, price, qty int64, tif orderbook.TimeInForce) (uint64, error) {
	book, err := e.registry.GetPool(base, quote)
	if err != nil {
		return 0, err
	}
	e.append(entrywal.RecordPlace, fmt.Sprintf("%s|%s|%s|%d|%d|%d|%d", base, quote, owner, side, tif, price, qty))

	id, err := book.PlaceOrder(e.caller(), owner, side, price, qty, tif)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"pair":  book.Pair(),
			"owner": owner,
		}).WithError(err).Warn("place order rejected")
		return 0, err
	}
	e.log.WithFields(logrus.Fields{
		"pair":    book.Pair(),
		"owner":   owner,
		"orderId": id,
		"side":    side.String(),
		"price":   price,
		"qty":     qty,
	}).Info("order placed")
	return id, nil
}

func (e *Exchange) PlaceMarketOrder(base, quote, owner string, side orderbook.Side, qty int64) (uint64, error) {
	book, err := e.registry.GetPool(base, quote)
	if err != nil {
		return 0, err
	}
	e.append(entrywal.RecordPlaceMarket, fmt.Sprintf("%s|%s|%s|%d|%d", base, quote, owner, side, qty))

	id, err := book.PlaceMarketOrder(e.caller(), owner, side, qty)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"pair":  book.Pair(),
			"owner": owner,
		}).WithError(err).Warn("market order rejected")
		return 0, err
	}
	e.log.WithFields(logrus.Fields{
		"pair":    book.Pair(),
		"owner":   owner,
		"orderId": id,
		"side":    side.String(),
		"qty":     qty,
	}).Info("market order executed")
	return id, nil
}

func (e *Exchange) CancelOrder(base, quote, owner string, id uint64) error {
	book, err := e.registry.GetPool(base, quote)
	if err != nil {
		return err
	}
	e.append(entrywal.RecordCancel, fmt.Sprintf("%s|%s|%s|%d", base, quote, owner, id))

	if err := book.CancelOrder(e.caller(), owner, id); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"pair":    book.Pair(),
		"owner":   owner,
		"orderId": id,
	}).Info("order cancelled")
	return nil
}

// ---------------- Queries ----------------

func (e *Exchange) Balance(user, currency string) int64 {
	return e.ledger.Balance(user, currency)
}

func (e *Exchange) Depth(base, quote string, count int) (bids, asks []orderbook.PriceVolume, err error) {
	book, err := e.registry.GetPool(base, quote)
	if err != nil {
		return nil, nil, err
	}
	bids, asks = book.Depth(count)
	return bids, asks, nil
}

func (e *Exchange) UserActiveOrders(base, quote, owner string) ([]orderbook.Order, error) {
	book, err := e.registry.GetPool(base, quote)
	if err != nil {
		return nil, err
	}
	return book.UserActiveOrders(owner), nil
}

// ---------------- Internals ----------------

func (e *Exchange) caller() orderbook.Caller {
	return orderbook.Caller{Addr: e.routerAddr, Role: orderbook.RoleRouter}
}

// append journals an intent record. Replayed operations are not re-journaled.
func (e *Exchange) append(t entrywal.RecordType, payload string) {
	if e.replaying || e.journal == nil {
		return
	}
	rec := entrywal.NewRecord(t, e.seqGen.Next(), []byte(payload))
	if err := e.journal.Append(rec); err != nil {
		e.log.WithError(err).Error("journal append failed")
	}
}

// recordTrade persists the fill in the outbox and hands it to the in-process
// stream. Replay skips both: fills were already recorded when they happened.
func (e *Exchange) recordTrade(t orderbook.Trade) {
	if e.replaying {
		return
	}
	if e.box != nil {
		payload, err := json.Marshal(t)
		if err == nil {
			if err := e.box.PutNew(e.seqGen.Next(), payload); err != nil {
				e.log.WithError(err).Error("outbox put failed")
			}
		}
	}
	if e.onTrade != nil {
		e.onTrade(t)
	}
	e.log.WithFields(logrus.Fields{
		"pair":  t.Pair,
		"price": t.Price,
		"qty":   t.Qty,
		"maker": t.Maker,
		"taker": t.Taker,
	}).Info("trade")
}
