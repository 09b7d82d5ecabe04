package orderbook

import "clob/pkg/num"

// Rules are the per-pool trading constraints set by the pool owner.
// Violating orders are rejected before any balance is locked.
type Rules struct {
	// MinTradeAmount is the smallest acceptable base quantity.
	MinTradeAmount int64
	// MinAmountMovement is the base quantity increment.
	MinAmountMovement int64
	// MinOrderSize is the smallest acceptable quote notional.
	MinOrderSize int64
	// MinPriceMovement is the price increment.
	MinPriceMovement int64
	// SlippageThreshold bounds market orders, in whole percent of the best
	// opposite price.
	SlippageThreshold int64
}

func (r Rules) validateQty(qty int64) error {
	if qty <= 0 {
		return ErrZeroQuantity
	}
	if r.MinTradeAmount > 0 && qty < r.MinTradeAmount {
		return ErrBelowMinTrade
	}
	if r.MinAmountMovement > 0 && qty%r.MinAmountMovement != 0 {
		return ErrAmountIncrement
	}
	return nil
}

func (r Rules) validateLimit(price, qty int64, baseDecimals uint8) error {
	if err := r.validateQty(qty); err != nil {
		return err
	}
	if price <= 0 {
		return ErrInvalidPrice
	}
	if r.MinPriceMovement > 0 && price%r.MinPriceMovement != 0 {
		return ErrPriceIncrement
	}
	notional, err := num.Notional(qty, price, baseDecimals)
	if err != nil {
		return ErrInvalidPrice
	}
	if r.MinOrderSize > 0 && notional < r.MinOrderSize {
		return ErrBelowMinNotional
	}
	return nil
}

// worstPrice applies the slippage threshold to the best opposite price:
// a buyer accepts up to best*(100+thr)/100, a seller down to best*(100-thr)/100.
// A zero threshold means no bound.
func (r Rules) worstPrice(side Side, best int64) int64 {
	if r.SlippageThreshold <= 0 {
		return 0
	}
	if side == Buy {
		w, err := num.MulDiv(best, 100+r.SlippageThreshold, 100)
		if err != nil {
			return 0
		}
		return w
	}
	w, err := num.MulDiv(best, 100-r.SlippageThreshold, 100)
	if err != nil {
		return 0
	}
	return w
}
