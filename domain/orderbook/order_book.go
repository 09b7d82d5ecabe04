package orderbook

import (
	"fmt"
	"sync"
	"time"

	"clob/pkg/num"
)

// Ledger is the balance collaborator the book settles through. The book is
// registered as an approved operator and identifies itself by its pair string.
// The taker flag selects which fee rate the ledger applies to the leg.
type Ledger interface {
	Lock(operator, owner, currency string, amount int64) error
	Unlock(operator, owner, currency string, amount int64) error
	// TransferLocked debits the sender's locked bucket for this operator and
	// credits the receiver's available balance, net of fee.
	TransferLocked(operator, sender, receiver, currency string, amount int64, taker bool) error
	// Transfer debits the sender's available balance and credits the
	// receiver's available balance, net of fee.
	Transfer(operator, sender, receiver, currency string, amount int64, taker bool) error
	Balance(user, currency string) int64
}

// Role tags who is invoking a mutating operation. Direct end-user calls are
// not a role: users go through the router.
type Role int

const (
	RoleRouter Role = iota
	RoleOwner
	RoleInternal
)

type Caller struct {
	Addr string
	Role Role
}

// Config describes one trading pair.
type Config struct {
	Pair         string // operator id in the ledger, e.g. "ETH/USDC"
	Base         string
	Quote        string
	BaseDecimals uint8
	Owner        string // pool owner
	Router       string // authorized dispatch address
	Rules        Rules
	TTL          time.Duration // order lifetime; zero means DefaultTTL
	Now          func() int64  // clock, unix nanos; nil means time.Now
}

const DefaultTTL = 90 * 24 * time.Hour

// OrderBook owns the bid/ask price indexes, the per-price queues and the
// order detail records for a single trading pair. All operations hold the
// single-writer mutex for their full duration: one placement runs to
// completion before the next begins, and matching never suspends mid-way.
type OrderBook struct {
	mu  sync.Mutex
	cfg Config

	bids *RBTree
	asks *RBTree

	orders map[uint64]*Order
	active map[string]map[uint64]struct{}

	nextID uint64
	paused bool

	ledger  Ledger
	onTrade func(Trade)
}

func New(cfg Config, ledger Ledger) (*OrderBook, error) {
	if cfg.Pair == "" || cfg.Base == "" || cfg.Quote == "" {
		return nil, fmt.Errorf("order book: incomplete pair config")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixNano() }
	}
	return &OrderBook{
		cfg:    cfg,
		bids:   NewRBTree(),
		asks:   NewRBTree(),
		orders: make(map[uint64]*Order),
		active: make(map[string]map[uint64]struct{}),
		ledger: ledger,
	}, nil
}

func (b *OrderBook) Pair() string  { return b.cfg.Pair }
func (b *OrderBook) Base() string  { return b.cfg.Base }
func (b *OrderBook) Quote() string { return b.cfg.Quote }

// OnTrade registers the fill event sink. Must be set before traffic.
func (b *OrderBook) OnTrade(fn func(Trade)) { b.onTrade = fn }

func (b *OrderBook) authorize(c Caller) error {
	switch c.Role {
	case RoleRouter:
		if c.Addr != b.cfg.Router {
			return ErrUnauthorizedCaller
		}
	case RoleOwner:
		if c.Addr != b.cfg.Owner {
			return ErrUnauthorizedCaller
		}
	case RoleInternal:
	default:
		return ErrUnauthorizedCaller
	}
	return nil
}

// SetPaused toggles trading. Owner only.
func (b *OrderBook) SetPaused(c Caller, paused bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.Role != RoleOwner || c.Addr != b.cfg.Owner {
		return ErrUnauthorizedCaller
	}
	b.paused = paused
	return nil
}

// PlaceOrder validates, locks collateral, matches and rests the remainder of
// a limit order. It returns the new order id. The whole placement is atomic:
// any error leaves no state change.
func (b *OrderBook) PlaceOrder(c Caller, owner string, side Side, price, qty int64, tif TimeInForce) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authorize(c); err != nil {
		return 0, err
	}
	if b.paused {
		return 0, ErrTradingPaused
	}
	if err := b.cfg.Rules.validateLimit(price, qty, b.cfg.BaseDecimals); err != nil {
		return 0, err
	}

	// Post-only and fill-or-kill are decided against the current book before
	// anything is locked or mutated.
	if tif == PostOnly && b.wouldCross(side, price) {
		return 0, ErrWouldTakeLiquidity
	}
	if tif == FOK {
		if b.crossableQty(side, price, qty) < qty {
			return 0, ErrInsufficientFill
		}
	}

	locked, err := b.lockFor(owner, side, price, qty)
	if err != nil {
		return 0, err
	}

	now := b.cfg.Now()
	b.nextID++
	o := &Order{
		ID:        b.nextID,
		Owner:     owner,
		Side:      side,
		Type:      Limit,
		TIF:       tif,
		Price:     price,
		Qty:       qty,
		Status:    Open,
		Locked:    locked,
		CreatedAt: now,
		ExpiresAt: now + int64(b.cfg.TTL),
	}

	if tif != PostOnly {
		if err := b.match(o, price); err != nil {
			return 0, err
		}
	}

	switch {
	case o.Remaining() == 0:
		b.finalizeFilled(o)
	case tif == IOC, tif == FOK:
		// A FOK remainder is possible when a resting maker expires between
		// the crossable-volume check and the drain; it must not rest.
		b.cancelRemainder(o)
	default:
		b.rest(o)
	}
	return o.ID, nil
}

// PlaceMarketOrder matches immediately against resting liquidity, settling
// from the taker's available balance per fill. It fails if no opposite
// liquidity exists. Market orders are never queued.
func (b *OrderBook) PlaceMarketOrder(c Caller, owner string, side Side, qty int64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authorize(c); err != nil {
		return 0, err
	}
	if b.paused {
		return 0, ErrTradingPaused
	}
	if err := b.cfg.Rules.validateQty(qty); err != nil {
		return 0, err
	}

	best := b.bestOpposite(side)
	if best == 0 {
		return 0, ErrNoLiquidity
	}
	bound := b.cfg.Rules.worstPrice(side, best)

	// Dry-run the drain to learn what the taker will owe, so the commit
	// below cannot fail part-way through.
	fillable, cost := b.previewMarket(side, bound, qty)
	if fillable == 0 {
		return 0, ErrNoLiquidity
	}
	if side == Buy {
		if b.ledger.Balance(owner, b.cfg.Quote) < cost {
			return 0, ErrInsufficientFunds
		}
	} else {
		if b.ledger.Balance(owner, b.cfg.Base) < fillable {
			return 0, ErrInsufficientFunds
		}
	}

	now := b.cfg.Now()
	b.nextID++
	o := &Order{
		ID:        b.nextID,
		Owner:     owner,
		Side:      side,
		Type:      Market,
		TIF:       IOC,
		Qty:       qty,
		Status:    Open,
		CreatedAt: now,
		ExpiresAt: now + int64(b.cfg.TTL),
	}

	if err := b.match(o, bound); err != nil {
		return 0, err
	}
	if o.Remaining() == 0 {
		o.Status = Filled
	} else {
		o.Status = Cancelled
	}
	return o.ID, nil
}

// CancelOrder removes a resting order and unlocks its remaining collateral.
// Only the order's owner may cancel.
func (b *OrderBook) CancelOrder(c Caller, caller string, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authorize(c); err != nil {
		return err
	}
	o, ok := b.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Owner != caller {
		return ErrNotOrderOwner
	}
	return b.removeResting(o, Cancelled)
}

// ---------------- Views ----------------

// BestPrice returns the best resting price on a side: highest bid or lowest
// ask. Zero means the side is empty.
func (b *OrderBook) BestPrice(side Side) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lvl *PriceLevel
	if side == Buy {
		lvl = b.bids.MaxLevel()
	} else {
		lvl = b.asks.MinLevel()
	}
	if lvl == nil {
		return 0
	}
	return lvl.Price
}

// OrderQueue reports the valid order count and total unfilled volume at a
// price level, skipping expired orders.
func (b *OrderBook) OrderQueue(side Side, price int64) (int, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lvl := b.tree(side).FindLevel(price)
	if lvl == nil {
		return 0, 0
	}
	now := b.cfg.Now()
	count := 0
	volume := int64(0)
	for o := lvl.Head(); o != nil; o = o.Next() {
		if o.Expired(now) {
			continue
		}
		count++
		volume += o.Remaining()
	}
	return count, volume
}

// UserActiveOrders returns copies of the owner's open orders, skipping
// expired ones.
func (b *OrderBook) UserActiveOrders(owner string) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.active[owner]
	now := b.cfg.Now()
	out := make([]Order, 0, len(ids))
	for id := range ids {
		o := b.orders[id]
		if o == nil || o.Expired(now) {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// GetOrder returns a copy of a resting order's detail record.
func (b *OrderBook) GetOrder(id uint64) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// NextBestPrices walks the price index from start toward worse prices and
// returns up to count prices. A zero start begins at the best price.
func (b *OrderBook) NextBestPrices(side Side, start int64, count int) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int64, 0, count)
	t := b.tree(side)

	var lvl *PriceLevel
	if start == 0 {
		if side == Buy {
			lvl = t.MaxLevel()
		} else {
			lvl = t.MinLevel()
		}
	} else {
		if side == Buy {
			lvl = t.Predecessor(start)
		} else {
			lvl = t.Successor(start)
		}
	}
	for lvl != nil && len(out) < count {
		out = append(out, lvl.Price)
		if side == Buy {
			lvl = t.Predecessor(lvl.Price)
		} else {
			lvl = t.Successor(lvl.Price)
		}
	}
	return out
}

// Depth returns up to count (price, volume) pairs per side, best first.
func (b *OrderBook) Depth(count int) (bids, asks []PriceVolume) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.ForEachDescending(func(lvl *PriceLevel) bool {
		bids = append(bids, PriceVolume{Price: lvl.Price, Volume: lvl.TotalQty})
		return len(bids) < count
	})
	b.asks.ForEachAscending(func(lvl *PriceLevel) bool {
		asks = append(asks, PriceVolume{Price: lvl.Price, Volume: lvl.TotalQty})
		return len(asks) < count
	})
	return bids, asks
}

type PriceVolume struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
}

// ---------------- Internals ----------------

func (b *OrderBook) tree(side Side) *RBTree {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) bestOpposite(side Side) int64 {
	var lvl *PriceLevel
	if side == Buy {
		lvl = b.asks.MinLevel()
	} else {
		lvl = b.bids.MaxLevel()
	}
	if lvl == nil {
		return 0
	}
	return lvl.Price
}

func (b *OrderBook) wouldCross(side Side, price int64) bool {
	best := b.bestOpposite(side)
	if best == 0 {
		return false
	}
	if side == Buy {
		return best <= price
	}
	return best >= price
}

// lockFor reserves the committed currency for a limit order: quote notional
// for a BUY, base quantity for a SELL.
func (b *OrderBook) lockFor(owner string, side Side, price, qty int64) (int64, error) {
	if side == Buy {
		notional, err := num.Notional(qty, price, b.cfg.BaseDecimals)
		if err != nil {
			return 0, ErrInvalidPrice
		}
		if err := b.ledger.Lock(b.cfg.Pair, owner, b.cfg.Quote, notional); err != nil {
			return 0, err
		}
		return notional, nil
	}
	if err := b.ledger.Lock(b.cfg.Pair, owner, b.cfg.Base, qty); err != nil {
		return 0, err
	}
	return qty, nil
}

func (b *OrderBook) lockCurrency(o *Order) string {
	if o.Side == Buy {
		return b.cfg.Quote
	}
	return b.cfg.Base
}

func (b *OrderBook) rest(o *Order) {
	lvl := b.tree(o.Side).UpsertLevel(o.Price)
	lvl.Enqueue(o)
	b.orders[o.ID] = o
	set := b.active[o.Owner]
	if set == nil {
		set = make(map[uint64]struct{})
		b.active[o.Owner] = set
	}
	set[o.ID] = struct{}{}
	if o.Filled > 0 {
		o.Status = PartiallyFilled
	}
}

// finalizeFilled releases any truncation residue left in the lock bucket and
// marks the order terminal. The order was never queued or is already removed.
func (b *OrderBook) finalizeFilled(o *Order) {
	o.Status = Filled
	if o.Locked > 0 {
		_ = b.ledger.Unlock(b.cfg.Pair, o.Owner, b.lockCurrency(o), o.Locked)
		o.Locked = 0
	}
}

// cancelRemainder unlocks and cancels the unfilled part of an incoming order
// that must not rest (IOC leftovers).
func (b *OrderBook) cancelRemainder(o *Order) {
	if o.Locked > 0 {
		_ = b.ledger.Unlock(b.cfg.Pair, o.Owner, b.lockCurrency(o), o.Locked)
		o.Locked = 0
	}
	o.Status = Cancelled
}

// removeResting takes a queued order out of its level, prunes the level if
// emptied, unlocks remaining collateral and drops the detail records.
func (b *OrderBook) removeResting(o *Order, terminal Status) error {
	lvl := b.tree(o.Side).FindLevel(o.Price)
	if lvl == nil || lvl.Get(o.ID) == nil {
		return ErrOrderNotFound
	}
	lvl.Remove(o)
	if lvl.Empty() {
		b.tree(o.Side).DeleteLevel(lvl.Price)
	}
	if o.Locked > 0 {
		_ = b.ledger.Unlock(b.cfg.Pair, o.Owner, b.lockCurrency(o), o.Locked)
		o.Locked = 0
	}
	o.Status = terminal
	b.forget(o)
	return nil
}

func (b *OrderBook) forget(o *Order) {
	delete(b.orders, o.ID)
	if set := b.active[o.Owner]; set != nil {
		delete(set, o.ID)
		if len(set) == 0 {
			delete(b.active, o.Owner)
		}
	}
}
