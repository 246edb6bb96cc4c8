// Package balances implements the pull-payment ledger. Refunds, proceeds, and
// rewards are credited here instead of being pushed to addresses; holders pull
// their funds out through the withdraw path.
package balances

import (
	"context"
	"fmt"

	"github.com/tokenhall/auctionhouse/internal/app/storage"
)

// Ledger exposes credit and debit operations over a BalanceStore. Callers
// serialize mutations; the ledger performs no locking of its own.
type Ledger struct {
	store storage.BalanceStore
}

// NewLedger creates a ledger over the store.
func NewLedger(store storage.BalanceStore) *Ledger {
	return &Ledger{store: store}
}

// Balance returns the credited amount for an address, zero if none.
func (l *Ledger) Balance(ctx context.Context, addr string) (int64, error) {
	return l.store.GetBalance(ctx, addr)
}

// All returns every non-zero balance.
func (l *Ledger) All(ctx context.Context) (map[string]int64, error) {
	return l.store.ListBalances(ctx)
}

// Credit adds amount to the address's balance.
func (l *Ledger) Credit(ctx context.Context, addr string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("credit amount %d is negative", amount)
	}
	if amount == 0 {
		return nil
	}
	current, err := l.store.GetBalance(ctx, addr)
	if err != nil {
		return fmt.Errorf("read balance for %s: %w", addr, err)
	}
	if err := l.store.SetBalance(ctx, addr, current+amount); err != nil {
		return fmt.Errorf("write balance for %s: %w", addr, err)
	}
	return nil
}

// Consume spends up to amount from the address's balance and returns how much
// was actually used.
func (l *Ledger) Consume(ctx context.Context, addr string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	current, err := l.store.GetBalance(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("read balance for %s: %w", addr, err)
	}
	used := amount
	if current < used {
		used = current
	}
	if used == 0 {
		return 0, nil
	}
	if err := l.store.SetBalance(ctx, addr, current-used); err != nil {
		return 0, fmt.Errorf("write balance for %s: %w", addr, err)
	}
	return used, nil
}

// Take zeroes the address's balance and returns the amount that was held.
// The zero-then-transfer ordering for withdrawals belongs to the caller: take
// first, transfer second, credit back on failure.
func (l *Ledger) Take(ctx context.Context, addr string) (int64, error) {
	current, err := l.store.GetBalance(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("read balance for %s: %w", addr, err)
	}
	if current == 0 {
		return 0, nil
	}
	if err := l.store.SetBalance(ctx, addr, 0); err != nil {
		return 0, fmt.Errorf("zero balance for %s: %w", addr, err)
	}
	return current, nil
}
