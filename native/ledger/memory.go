package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Ledger used by the daemon's demo mode and by tests.
// A single mutex makes every operation atomic.
type Memory struct {
	mu     sync.Mutex
	free   map[string]decimal.Decimal
	locked map[string]decimal.Decimal
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		free:   make(map[string]decimal.Decimal),
		locked: make(map[string]decimal.Decimal),
	}
}

func balanceKey(asset, account string) string {
	return strings.ToUpper(strings.TrimSpace(asset)) + "|" + strings.TrimSpace(account)
}

func validate(ctx context.Context, asset, account string, amount decimal.Decimal) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(asset) == "" || strings.TrimSpace(account) == "" {
		return ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (m *Memory) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	if err := validate(ctx, asset, from, amount); err != nil {
		return err
	}
	if strings.TrimSpace(to) == "" {
		return ErrInvalidAccount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src := balanceKey(asset, from)
	if m.free[src].LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from, m.free[src], asset, amount)
	}
	dst := balanceKey(asset, to)
	m.free[src] = m.free[src].Sub(amount)
	m.free[dst] = m.free[dst].Add(amount)
	return nil
}

func (m *Memory) Mint(ctx context.Context, asset, to string, amount decimal.Decimal) error {
	if err := validate(ctx, asset, to, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(asset, to)
	m.free[key] = m.free[key].Add(amount)
	return nil
}

func (m *Memory) Burn(ctx context.Context, asset, from string, amount decimal.Decimal) error {
	if err := validate(ctx, asset, from, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(asset, from)
	if m.free[key].LessThan(amount) {
		return ErrInsufficientBalance
	}
	m.free[key] = m.free[key].Sub(amount)
	return nil
}

func (m *Memory) LockCollateral(ctx context.Context, asset, owner string, amount decimal.Decimal) error {
	if err := validate(ctx, asset, owner, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(asset, owner)
	if m.free[key].LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, owner, m.free[key], asset, amount)
	}
	m.free[key] = m.free[key].Sub(amount)
	m.locked[key] = m.locked[key].Add(amount)
	return nil
}

func (m *Memory) ReleaseCollateral(ctx context.Context, asset, owner string, amount decimal.Decimal) error {
	if err := validate(ctx, asset, owner, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(asset, owner)
	if m.locked[key].LessThan(amount) {
		return ErrInsufficientLocked
	}
	m.locked[key] = m.locked[key].Sub(amount)
	m.free[key] = m.free[key].Add(amount)
	return nil
}

func (m *Memory) BalanceOf(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return decimal.Zero, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free[balanceKey(asset, account)], nil
}

func (m *Memory) LockedOf(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return decimal.Zero, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked[balanceKey(asset, account)], nil
}

// Supply sums free and locked balances of asset across all accounts.
func (m *Memory) Supply(asset string) decimal.Decimal {
	prefix := strings.ToUpper(strings.TrimSpace(asset)) + "|"
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for key, value := range m.free {
		if strings.HasPrefix(key, prefix) {
			total = total.Add(value)
		}
	}
	for key, value := range m.locked {
		if strings.HasPrefix(key, prefix) {
			total = total.Add(value)
		}
	}
	return total
}

// Accounts lists the accounts holding a free balance of asset, sorted.
func (m *Memory) Accounts(asset string) []string {
	prefix := strings.ToUpper(strings.TrimSpace(asset)) + "|"
	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := make([]string, 0)
	for key, value := range m.free {
		if strings.HasPrefix(key, prefix) && value.IsPositive() {
			accounts = append(accounts, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(accounts)
	return accounts
}
