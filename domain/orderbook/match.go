package orderbook

import (
	"fmt"

	"github.com/google/uuid"

	"clob/pkg/num"
)

// Trade is one fill between a resting maker and an incoming taker.
type Trade struct {
	ID           string `json:"id"`
	Pair         string `json:"pair"`
	MakerOrderID uint64 `json:"maker_order_id"`
	TakerOrderID uint64 `json:"taker_order_id"`
	Maker        string `json:"maker"`
	Taker        string `json:"taker"`
	TakerSide    Side   `json:"taker_side"`
	Price        int64  `json:"price"`
	Qty          int64  `json:"qty"`
	Notional     int64  `json:"notional"`
	Ts           int64  `json:"ts"`
}

// crosses reports whether a resting level at price is eligible for a taker
// bounded by limit. A zero limit means unbounded (market without slippage cap).
func crosses(takerSide Side, price, limit int64) bool {
	if limit == 0 {
		return true
	}
	if takerSide == Buy {
		return price <= limit
	}
	return price >= limit
}

// match walks the opposite price index best-to-worst and drains each queue
// head-first. limit is the taker's limit price, or the slippage bound for
// market orders (0 = none). Expired resting orders encountered during the
// drain are cancelled inline and their collateral unlocked.
func (b *OrderBook) match(taker *Order, limit int64) error {
	opp := b.tree(taker.Side.Opposite())
	now := b.cfg.Now()

	for taker.Remaining() > 0 {
		var lvl *PriceLevel
		if taker.Side == Buy {
			lvl = opp.MinLevel()
		} else {
			lvl = opp.MaxLevel()
		}
		if lvl == nil || !crosses(taker.Side, lvl.Price, limit) {
			break
		}

		for taker.Remaining() > 0 && !lvl.Empty() {
			maker := lvl.Head()
			if maker.Expired(now) {
				b.expireResting(lvl, maker)
				continue
			}
			q := min64(taker.Remaining(), maker.Remaining())
			if err := b.settle(taker, maker, lvl.Price, q); err != nil {
				return fmt.Errorf("settlement at %d: %w", lvl.Price, err)
			}

			taker.Filled += q
			maker.Filled += q
			lvl.ReduceVolume(q)
			if maker.Status == Open {
				maker.Status = PartiallyFilled
			}
			if taker.Status == Open {
				taker.Status = PartiallyFilled
			}

			b.emitTrade(taker, maker, lvl.Price, q, now)

			if maker.Remaining() == 0 {
				maker.Status = Filled
				lvl.Remove(maker)
				if maker.Locked > 0 {
					_ = b.ledger.Unlock(b.cfg.Pair, maker.Owner, b.lockCurrency(maker), maker.Locked)
					maker.Locked = 0
				}
				b.forget(maker)
			}
		}

		if lvl.Empty() {
			opp.DeleteLevel(lvl.Price)
		}
	}
	return nil
}

// settle moves funds for one fill at the maker's price. The buyer pays quote
// and receives base; the seller pays base and receives quote. Resting and
// pre-locked legs come out of locked buckets; a market taker pays from its
// available balance. Fees are deducted from each outgoing leg by the ledger.
func (b *OrderBook) settle(taker, maker *Order, price, q int64) error {
	notional, err := num.Notional(q, price, b.cfg.BaseDecimals)
	if err != nil {
		return err
	}

	var buyer, seller *Order
	if taker.Side == Buy {
		buyer, seller = taker, maker
	} else {
		buyer, seller = maker, taker
	}

	// Quote leg: buyer -> seller.
	if buyer.Type == Market {
		if err := b.ledger.Transfer(b.cfg.Pair, buyer.Owner, seller.Owner, b.cfg.Quote, notional, true); err != nil {
			return err
		}
	} else {
		if err := b.ledger.TransferLocked(b.cfg.Pair, buyer.Owner, seller.Owner, b.cfg.Quote, notional, buyer == taker); err != nil {
			return err
		}
		buyer.Locked -= notional
		// A buy taker locked at its own limit price but fills at the maker
		// price; release the difference immediately.
		if buyer == taker && buyer.Price > price {
			committed, err := num.Notional(q, buyer.Price, b.cfg.BaseDecimals)
			if err != nil {
				return err
			}
			if surplus := committed - notional; surplus > 0 {
				if err := b.ledger.Unlock(b.cfg.Pair, buyer.Owner, b.cfg.Quote, surplus); err != nil {
					return err
				}
				buyer.Locked -= surplus
			}
		}
	}

	// Base leg: seller -> buyer.
	if seller.Type == Market {
		if err := b.ledger.Transfer(b.cfg.Pair, seller.Owner, buyer.Owner, b.cfg.Base, q, true); err != nil {
			return err
		}
	} else {
		if err := b.ledger.TransferLocked(b.cfg.Pair, seller.Owner, buyer.Owner, b.cfg.Base, q, seller == taker); err != nil {
			return err
		}
		seller.Locked -= q
	}
	return nil
}

func (b *OrderBook) emitTrade(taker, maker *Order, price, q, now int64) {
	if b.onTrade == nil {
		return
	}
	notional, _ := num.Notional(q, price, b.cfg.BaseDecimals)
	b.onTrade(Trade{
		ID:           uuid.NewString(),
		Pair:         b.cfg.Pair,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		Maker:        maker.Owner,
		Taker:        taker.Owner,
		TakerSide:    taker.Side,
		Price:        price,
		Qty:          q,
		Notional:     notional,
		Ts:           now,
	})
}

// expireResting drops an expired resting order mid-drain: unlock the
// remaining collateral and unlink it without filling.
func (b *OrderBook) expireResting(lvl *PriceLevel, o *Order) {
	lvl.Remove(o)
	if o.Locked > 0 {
		_ = b.ledger.Unlock(b.cfg.Pair, o.Owner, b.lockCurrency(o), o.Locked)
		o.Locked = 0
	}
	o.Status = Cancelled
	b.forget(o)
}

// crossableQty sums the non-expired opposite volume eligible at limit, for
// the fill-or-kill precheck. It stops as soon as need is covered.
func (b *OrderBook) crossableQty(side Side, limit, need int64) int64 {
	now := b.cfg.Now()
	total := int64(0)
	walk := func(lvl *PriceLevel) bool {
		if !crosses(side, lvl.Price, limit) {
			return false
		}
		for o := lvl.Head(); o != nil; o = o.Next() {
			if o.Expired(now) {
				continue
			}
			total += o.Remaining()
			if total >= need {
				return false
			}
		}
		return true
	}
	if side == Buy {
		b.asks.ForEachAscending(walk)
	} else {
		b.bids.ForEachDescending(walk)
	}
	return total
}

// previewMarket dry-runs a market drain bounded by bound (0 = none) and
// returns the fillable quantity and, mirroring per-fill truncation, the exact
// quote cost a buyer would pay.
func (b *OrderBook) previewMarket(side Side, bound, qty int64) (fillable, cost int64) {
	now := b.cfg.Now()
	left := qty
	walk := func(lvl *PriceLevel) bool {
		if !crosses(side, lvl.Price, bound) {
			return false
		}
		for o := lvl.Head(); o != nil && left > 0; o = o.Next() {
			if o.Expired(now) {
				continue
			}
			q := min64(left, o.Remaining())
			n, err := num.Notional(q, lvl.Price, b.cfg.BaseDecimals)
			if err != nil {
				return false
			}
			fillable += q
			cost += n
			left -= q
		}
		return left > 0
	}
	if side == Buy {
		b.asks.ForEachAscending(walk)
	} else {
		b.bids.ForEachDescending(walk)
	}
	return fillable, cost
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
