// Package ledger tracks available and locked balances per (user, currency).
// Funds committed to an open order live in the locked bucket of the order
// book that holds the order; only approved operators may move them. Fees are
// applied here, on settlement transfers, in per-mille of the moved amount.
package ledger

import (
	"errors"
	"sync"

	"clob/pkg/num"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient available balance")
	ErrInsufficientLocked   = errors.New("insufficient locked balance")
	ErrUnauthorizedOperator = errors.New("caller is not an approved operator")
	ErrInvalidAmount        = errors.New("amount must be positive")
)

// FeeExemptionPolicy reports whether a user pays no fees (e.g. market-maker
// vaults). A nil policy exempts nobody.
type FeeExemptionPolicy func(user string) bool

type balKey struct {
	user     string
	currency string
}

type lockKey struct {
	user     string
	operator string
	currency string
}

// Ledger serializes all mutation behind one mutex: a per-entry discipline
// would also do, but a single writer keeps the conservation invariant trivial
// to reason about.
type Ledger struct {
	mu        sync.Mutex
	available map[balKey]int64
	locked    map[lockKey]int64
	operators map[string]struct{}

	feeReceiver  string
	makerFeeRate int64 // per-mille
	takerFeeRate int64 // per-mille
	exempt       FeeExemptionPolicy
}

type Config struct {
	FeeReceiver  string
	MakerFeeRate int64
	TakerFeeRate int64
	Exempt       FeeExemptionPolicy
}

func New(cfg Config) *Ledger {
	return &Ledger{
		available:    make(map[balKey]int64),
		locked:       make(map[lockKey]int64),
		operators:    make(map[string]struct{}),
		feeReceiver:  cfg.FeeReceiver,
		makerFeeRate: cfg.MakerFeeRate,
		takerFeeRate: cfg.TakerFeeRate,
		exempt:       cfg.Exempt,
	}
}

// ApproveOperator authorizes an order book to lock, unlock and transfer
// user funds. Called by the pool registry when a pool is created.
func (l *Ledger) ApproveOperator(operator string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.operators[operator] = struct{}{}
}

func (l *Ledger) Deposit(currency string, amount int64, creditTo string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available[balKey{creditTo, currency}] += amount
	return nil
}

func (l *Ledger) Withdraw(currency string, amount int64, owner string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := balKey{owner, currency}
	if l.available[k] < amount {
		return ErrInsufficientBalance
	}
	l.available[k] -= amount
	return nil
}

// Lock moves amount from the owner's available balance into the locked
// bucket held by operator.
func (l *Ledger) Lock(operator, owner, currency string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.approved(operator) {
		return ErrUnauthorizedOperator
	}
	ak := balKey{owner, currency}
	if l.available[ak] < amount {
		return ErrInsufficientBalance
	}
	l.available[ak] -= amount
	l.locked[lockKey{owner, operator, currency}] += amount
	return nil
}

// Unlock returns amount from the operator's locked bucket to the owner's
// available balance.
func (l *Ledger) Unlock(operator, owner, currency string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.approved(operator) {
		return ErrUnauthorizedOperator
	}
	lk := lockKey{owner, operator, currency}
	if l.locked[lk] < amount {
		return ErrInsufficientLocked
	}
	l.locked[lk] -= amount
	if l.locked[lk] == 0 {
		delete(l.locked, lk)
	}
	l.available[balKey{owner, currency}] += amount
	return nil
}

// TransferLocked settles one leg of a fill out of the sender's locked bucket:
// the receiver is credited net of fee and the fee receiver gets the rest.
func (l *Ledger) TransferLocked(operator, sender, receiver, currency string, amount int64, taker bool) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.approved(operator) {
		return ErrUnauthorizedOperator
	}
	lk := lockKey{sender, operator, currency}
	if l.locked[lk] < amount {
		return ErrInsufficientLocked
	}
	l.locked[lk] -= amount
	if l.locked[lk] == 0 {
		delete(l.locked, lk)
	}
	l.credit(sender, receiver, currency, amount, taker)
	return nil
}

// Transfer settles one leg of a fill out of the sender's available balance
// (market takers are not pre-locked).
func (l *Ledger) Transfer(operator, sender, receiver, currency string, amount int64, taker bool) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.approved(operator) {
		return ErrUnauthorizedOperator
	}
	ak := balKey{sender, currency}
	if l.available[ak] < amount {
		return ErrInsufficientBalance
	}
	l.available[ak] -= amount
	l.credit(sender, receiver, currency, amount, taker)
	return nil
}

func (l *Ledger) Balance(user, currency string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available[balKey{user, currency}]
}

func (l *Ledger) LockedBalance(user, operator, currency string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked[lockKey{user, operator, currency}]
}

// TotalBalance sums a user's available balance and every locked bucket for
// the currency. Used by conservation checks.
func (l *Ledger) TotalBalance(user, currency string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.available[balKey{user, currency}]
	for k, v := range l.locked {
		if k.user == user && k.currency == currency {
			total += v
		}
	}
	return total
}

func (l *Ledger) approved(operator string) bool {
	_, ok := l.operators[operator]
	return ok
}

// credit pays the receiver net of the fee owed by the sender's leg.
func (l *Ledger) credit(sender, receiver, currency string, amount int64, taker bool) {
	fee := int64(0)
	if l.exempt == nil || !l.exempt(sender) {
		rate := l.makerFeeRate
		if taker {
			rate = l.takerFeeRate
		}
		fee = num.Fee(amount, rate)
	}
	l.available[balKey{receiver, currency}] += amount - fee
	if fee > 0 {
		l.available[balKey{l.feeReceiver, currency}] += fee
	}
}
