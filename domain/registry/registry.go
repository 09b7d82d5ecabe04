// Package registry maps (base, quote) currency pairs to order book instances
// and registers each book as an approved operator in the ledger.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"clob/domain/ledger"
	"clob/domain/orderbook"
)

var (
	ErrPoolExists   = errors.New("pool already exists")
	ErrPoolNotFound = errors.New("pool not found")
)

type pairKey struct {
	base  string
	quote string
}

type Registry struct {
	mu     sync.RWMutex
	pools  map[pairKey]*orderbook.OrderBook
	ledger *ledger.Ledger
}

func New(l *ledger.Ledger) *Registry {
	return &Registry{
		pools:  make(map[pairKey]*orderbook.OrderBook),
		ledger: l,
	}
}

// PairName is the canonical pool identifier, also used as the ledger
// operator id of the book.
func PairName(base, quote string) string {
	return fmt.Sprintf("%s/%s", base, quote)
}

// CreatePool builds an order book for the pair and approves it as a ledger
// operator. Cross-pair books own independent state and may run in parallel.
func (r *Registry) CreatePool(cfg orderbook.Config) (*orderbook.OrderBook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := pairKey{cfg.Base, cfg.Quote}
	if _, ok := r.pools[k]; ok {
		return nil, ErrPoolExists
	}
	if cfg.Pair == "" {
		cfg.Pair = PairName(cfg.Base, cfg.Quote)
	}
	book, err := orderbook.New(cfg, r.ledger)
	if err != nil {
		return nil, err
	}
	r.ledger.ApproveOperator(cfg.Pair)
	r.pools[k] = book
	return book, nil
}

func (r *Registry) GetPool(base, quote string) (*orderbook.OrderBook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	book, ok := r.pools[pairKey{base, quote}]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return book, nil
}

// Pairs lists every registered book.
func (r *Registry) Pairs() []*orderbook.OrderBook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*orderbook.OrderBook, 0, len(r.pools))
	for _, b := range r.pools {
		out = append(out, b)
	}
	return out
}
