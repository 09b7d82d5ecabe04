package orderbook

type Side int
type OrderType int
type TimeInForce int
type Status int

const (
	Buy Side = iota
	Sell
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

const (
	Limit OrderType = iota
	Market
)

const (
	GTC TimeInForce = iota
	IOC
	FOK
	PostOnly
)

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

// Order is a resting or incoming order. While Open/PartiallyFilled it sits in
// exactly one price-level queue via the intrusive prev/next links; terminal
// orders are unlinked and dropped from the book's detail map.
type Order struct {
	ID     uint64
	Owner  string
	Side   Side
	Type   OrderType
	TIF    TimeInForce
	Price  int64 // 0 for market orders
	Qty    int64
	Filled int64
	Status Status

	// Locked is the collateral still held against this order: quote units
	// for a BUY, base units for a SELL. Market orders never lock.
	Locked int64

	CreatedAt int64
	ExpiresAt int64

	next *Order
	prev *Order
}

func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

func (o *Order) Expired(now int64) bool {
	return o.ExpiresAt > 0 && now >= o.ExpiresAt
}

// Next supports read-only queue traversal.
func (o *Order) Next() *Order {
	return o.next
}
