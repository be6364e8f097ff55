// Package ledger defines the token ledger primitive the lending and
// distribution engines settle against. Implementations must apply every
// operation atomically: an operation either fully succeeds or leaves all
// balances untouched.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance reports that the free balance cannot cover a debit.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInsufficientLocked reports a release larger than the locked amount.
	ErrInsufficientLocked = errors.New("ledger: insufficient locked collateral")
	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInvalidAccount rejects blank asset or account identifiers.
	ErrInvalidAccount = errors.New("ledger: asset and account required")
	// ErrTransient marks failures that may succeed when retried.
	ErrTransient = errors.New("ledger: transient failure")
)

// Ledger is the atomic token primitive consumed by the engines.
type Ledger interface {
	Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error
	Mint(ctx context.Context, asset, to string, amount decimal.Decimal) error
	Burn(ctx context.Context, asset, from string, amount decimal.Decimal) error
	// LockCollateral moves amount from the owner's free balance into a lock
	// that cannot be transferred until released.
	LockCollateral(ctx context.Context, asset, owner string, amount decimal.Decimal) error
	ReleaseCollateral(ctx context.Context, asset, owner string, amount decimal.Decimal) error
	// BalanceOf returns the free (unlocked) balance.
	BalanceOf(ctx context.Context, asset, account string) (decimal.Decimal, error)
	LockedOf(ctx context.Context, asset, account string) (decimal.Decimal, error)
}

// IsRetryable reports whether err is worth retrying: explicit transient
// failures and call timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

const defaultCallTimeout = 5 * time.Second

// Bounded wraps a Ledger so that every call runs with its own deadline and is
// detached from caller cancellation. A cancelled request therefore never
// abandons a transfer half way; the caller observes cancellation between
// calls instead.
type Bounded struct {
	next    Ledger
	timeout time.Duration
}

// NewBounded applies timeout to every call on next. Non-positive timeouts fall
// back to five seconds.
func NewBounded(next Ledger, timeout time.Duration) *Bounded {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Bounded{next: next, timeout: timeout}
}

func (b *Bounded) call(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(parent), b.timeout)
}

func (b *Bounded) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	ctx, cancel := b.call(ctx)
	defer cancel()
	return b.next.Transfer(ctx, asset, from, to, amount)
}

func (b *Bounded) Mint(ctx context.Context, asset, to string, amount decimal.Decimal) error {
	ctx, cancel := b.call(ctx)
	defer cancel()
	return b.next.Mint(ctx, asset, to, amount)
}

func (b *Bounded) Burn(ctx context.Context, asset, from string, amount decimal.Decimal) error {
	ctx, cancel := b.call(ctx)
	defer cancel()
	return b.next.Burn(ctx, asset, from, amount)
}

func (b *Bounded) LockCollateral(ctx context.Context, asset, owner string, amount decimal.Decimal) error {
	ctx, cancel := b.call(ctx)
	defer cancel()
	return b.next.LockCollateral(ctx, asset, owner, amount)
}

func (b *Bounded) ReleaseCollateral(ctx context.Context, asset, owner string, amount decimal.Decimal) error {
	ctx, cancel := b.call(ctx)
	defer cancel()
	return b.next.ReleaseCollateral(ctx, asset, owner, amount)
}

func (b *Bounded) BalanceOf(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()
	return b.next.BalanceOf(ctx, asset, account)
}

func (b *Bounded) LockedOf(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()
	return b.next.LockedOf(ctx, asset, account)
}
