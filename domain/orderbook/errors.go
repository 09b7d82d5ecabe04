package orderbook

import "errors"

var (
	ErrTradingPaused      = errors.New("trading paused")
	ErrZeroQuantity       = errors.New("zero quantity")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrPriceIncrement     = errors.New("price not a multiple of minimum price movement")
	ErrAmountIncrement    = errors.New("quantity not a multiple of minimum amount movement")
	ErrBelowMinTrade      = errors.New("quantity below minimum trade amount")
	ErrBelowMinNotional   = errors.New("order below minimum notional size")
	ErrNoLiquidity        = errors.New("no opposite liquidity")
	ErrInsufficientFill   = errors.New("fill-or-kill order cannot be fully filled")
	ErrWouldTakeLiquidity = errors.New("post-only order would take liquidity")
	ErrInsufficientFunds  = errors.New("insufficient available balance")
	ErrOrderNotFound      = errors.New("order not found")
	ErrNotOrderOwner      = errors.New("caller does not own order")
	ErrUnauthorizedCaller = errors.New("caller not authorized for this order book")
)
