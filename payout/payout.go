// Package payout transfers the pot to the winner of a round.
package payout

import (
	"sync"

	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Executor moves amount to the account of to.
type Executor interface {
	Transfer(to string, amount uint64) error
}

// ErrBlocked is returned for transfers to an account that refuses funds.
var ErrBlocked = xerrors.New("account refuses transfers")

// Bank is an in-memory Executor keeping the balance of every winner.
type Bank struct {
	sync.Mutex
	balances map[string]uint64
	blocked  map[string]bool
	paid     uint64
}

func NewBank() *Bank {
	return &Bank{
		balances: make(map[string]uint64),
		blocked:  make(map[string]bool),
	}
}

// Transfer implements Executor.
func (b *Bank) Transfer(to string, amount uint64) error {
	if to == "" {
		return xerrors.New("empty recipient")
	}
	if amount == 0 {
		return xerrors.New("nothing to transfer")
	}
	b.Lock()
	defer b.Unlock()
	if b.blocked[to] {
		return xerrors.Errorf("transfer of %d to %s: %w", amount, to, ErrBlocked)
	}
	bal := b.balances[to]
	if bal+amount < bal {
		return xerrors.Errorf("balance of %s would overflow", to)
	}
	b.balances[to] = bal + amount
	b.paid += amount
	log.Lvlf3("Transferred %d to %s", amount, to)
	return nil
}

func (b *Bank) Balance(account string) uint64 {
	b.Lock()
	defer b.Unlock()
	return b.balances[account]
}

// Paid is the sum of every successful transfer.
func (b *Bank) Paid() uint64 {
	b.Lock()
	defer b.Unlock()
	return b.paid
}

// Block makes transfers to account fail until Unblock is called.
func (b *Bank) Block(account string) {
	b.Lock()
	b.blocked[account] = true
	b.Unlock()
}

func (b *Bank) Unblock(account string) {
	b.Lock()
	delete(b.blocked, account)
	b.Unlock()
}

// Func adapts a function to Executor.
type Func func(to string, amount uint64) error

func (f Func) Transfer(to string, amount uint64) error {
	return f(to, amount)
}
