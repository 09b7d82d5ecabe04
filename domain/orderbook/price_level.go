package orderbook

// PriceLevel is the FIFO queue of resting orders at a single price.
// Time priority is encoded purely by list order: the head is always the
// oldest still-open order. TotalQty caches the sum of unfilled remainders.
type PriceLevel struct {
	Price int64

	head *Order
	tail *Order

	byID map[uint64]*Order

	TotalQty   int64
	OrderCount int
}

func newPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{Price: price, byID: make(map[uint64]*Order)}
}

func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.byID[o.ID] = o
	p.TotalQty += o.Remaining()
	p.OrderCount++
}

// Remove splices an order out of the queue in O(1). The caller must have
// already accounted for any fill; the order's current remainder is subtracted
// from the cached volume.
func (p *PriceLevel) Remove(o *Order) {
	if _, ok := p.byID[o.ID]; !ok {
		return
	}
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil

	delete(p.byID, o.ID)
	p.TotalQty -= o.Remaining()
	p.OrderCount--
	if p.TotalQty < 0 {
		p.TotalQty = 0
	}
}

// ReduceVolume is called once per fill to keep the cached volume in sync with
// the filled counters.
func (p *PriceLevel) ReduceVolume(qty int64) {
	p.TotalQty -= qty
	if p.TotalQty < 0 {
		p.TotalQty = 0
	}
}

func (p *PriceLevel) Get(id uint64) *Order {
	return p.byID[id]
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

func (p *PriceLevel) Head() *Order {
	return p.head
}
