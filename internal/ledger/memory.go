// Package ledger provides in-process implementations of the share-ledger
// and collateral-vault collaborators, used in standalone mode and tests.
// Production deployments substitute the external ledger service.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/openpredict/settlecore/internal/domain"
)

type holding struct {
	owner string
	key   domain.ClaimKey
}

// MemoryLedger implements domain.ShareLedger with an in-memory balance map.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[holding]uint64
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[holding]uint64)}
}

// Mint adds claims to an owner's balance.
func (l *MemoryLedger) Mint(ctx context.Context, owner string, key domain.ClaimKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[holding{owner, key}] += amount
	return nil
}

// Burn removes claims from an owner's balance.
func (l *MemoryLedger) Burn(ctx context.Context, owner string, key domain.ClaimKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := holding{owner, key}
	if l.balances[h] < amount {
		return fmt.Errorf("ledger: burn %d from %s: %w", amount, owner, domain.ErrInsufficientClaims)
	}
	l.balances[h] -= amount
	if l.balances[h] == 0 {
		delete(l.balances, h)
	}
	return nil
}

// BalanceOf returns an owner's claim balance.
func (l *MemoryLedger) BalanceOf(ctx context.Context, owner string, key domain.ClaimKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[holding{owner, key}], nil
}

// MintBatch mints several positions to one owner.
func (l *MemoryLedger) MintBatch(ctx context.Context, owner string, keys []domain.ClaimKey, amounts []uint64) error {
	if len(keys) != len(amounts) {
		return fmt.Errorf("ledger: mint batch: %d keys vs %d amounts: %w", len(keys), len(amounts), domain.ErrInvalidParams)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, key := range keys {
		l.balances[holding{owner, key}] += amounts[i]
	}
	return nil
}

var _ domain.ShareLedger = (*MemoryLedger)(nil)

// MemoryVault implements domain.CollateralVault with an in-memory balance
// map.
type MemoryVault struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewMemoryVault returns an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[string]uint64)}
}

// Debit removes collateral from an account.
func (v *MemoryVault) Debit(ctx context.Context, account string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances[account] < amount {
		return fmt.Errorf("vault: debit %d from %s: %w", amount, account, domain.ErrInsufficientCollateral)
	}
	v.balances[account] -= amount
	return nil
}

// Credit adds collateral to an account.
func (v *MemoryVault) Credit(ctx context.Context, account string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[account] += amount
	return nil
}

// Balance returns an account's collateral balance.
func (v *MemoryVault) Balance(ctx context.Context, account string) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[account], nil
}

var _ domain.CollateralVault = (*MemoryVault)(nil)
