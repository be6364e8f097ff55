package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/common"
)

// FarmerBalance reports how much of a grove's farmer share is still
// withdrawable. The grove's farmer is the farmer named on its most recent
// distribution; earnings recorded under earlier farmers are not counted.
func (e *Engine) FarmerBalance(ctx context.Context, groveID string) (FarmerBalance, error) {
	groveID = strings.TrimSpace(groveID)
	if groveID == "" {
		return FarmerBalance{}, fmt.Errorf("%w: grove required", ErrInvalidRequest)
	}
	list, err := e.state.Distributions(ctx, Filter{GroveID: groveID})
	if err != nil {
		return FarmerBalance{}, fmt.Errorf("distribution: list grove: %w", err)
	}
	balance := FarmerBalance{GroveID: groveID, TotalEarned: decimal.Zero, TotalWithdrawn: decimal.Zero, Available: decimal.Zero}
	if len(list) == 0 {
		return balance, nil
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	balance.Farmer = list[len(list)-1].FarmerAddress
	for _, d := range list {
		if d.FarmerAddress == balance.Farmer {
			balance.TotalEarned = balance.TotalEarned.Add(d.FarmerShare)
		}
	}
	withdrawals, err := e.state.Withdrawals(ctx, WithdrawalFilter{GroveID: groveID, Farmer: balance.Farmer})
	if err != nil {
		return FarmerBalance{}, fmt.Errorf("distribution: list withdrawals: %w", err)
	}
	for _, w := range withdrawals {
		balance.TotalWithdrawn = balance.TotalWithdrawn.Add(w.Amount)
	}
	balance.Available = balance.TotalEarned.Sub(balance.TotalWithdrawn)
	if balance.Available.IsNegative() {
		balance.Available = decimal.Zero
	}
	return balance, nil
}

// FarmerWithdraw pays amount of the grove's farmer share out of the reserve.
// Withdrawals on one grove are serialised so concurrent requests cannot
// overdraw the balance.
func (e *Engine) FarmerWithdraw(ctx context.Context, groveID, farmer string, amount decimal.Decimal) (*Withdrawal, error) {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	groveID = strings.TrimSpace(groveID)
	farmer = common.NormalizeAddress(farmer)
	if groveID == "" || farmer == "" {
		return nil, fmt.Errorf("%w: grove and farmer are required", ErrInvalidRequest)
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	unlock := e.locks.Lock("grove/" + groveID)
	defer unlock()

	balance, err := e.FarmerBalance(ctx, groveID)
	if err != nil {
		return nil, err
	}
	if balance.Farmer != "" && balance.Farmer != farmer {
		return nil, ErrNotGroveFarmer
	}
	if amount.GreaterThan(balance.Available) {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount, balance.Available)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	settleCtx := context.WithoutCancel(ctx)
	if err := e.ledger.Transfer(settleCtx, e.params.Asset, e.params.ReserveAccount, farmer, amount); err != nil {
		return nil, fmt.Errorf("distribution: pay farmer: %w", err)
	}
	w := &Withdrawal{
		ID:          e.newID(),
		GroveID:     groveID,
		Farmer:      farmer,
		Asset:       e.params.Asset,
		Amount:      amount,
		WithdrawnAt: e.now(),
	}
	if err := e.state.Commit(settleCtx, Batch{Withdrawal: w}); err != nil {
		e.compensate(ctx, "farmer/refund", func(ctx context.Context) error {
			return e.ledger.Transfer(ctx, e.params.Asset, farmer, e.params.ReserveAccount, amount)
		})
		return nil, fmt.Errorf("distribution: commit withdrawal: %w", err)
	}
	e.logger.Info("farmer withdrawal",
		slog.String("grove_id", groveID),
		slog.String("farmer", farmer),
		slog.String("amount", amount.String()))
	return w, nil
}

// FarmerWithdrawals lists a farmer's withdrawals, newest first.
func (e *Engine) FarmerWithdrawals(ctx context.Context, farmer string) ([]*Withdrawal, error) {
	farmer = common.NormalizeAddress(farmer)
	if farmer == "" {
		return nil, fmt.Errorf("%w: farmer required", ErrInvalidRequest)
	}
	list, err := e.state.Withdrawals(ctx, WithdrawalFilter{Farmer: farmer})
	if err != nil {
		return nil, fmt.Errorf("distribution: list withdrawals: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].WithdrawnAt.After(list[j].WithdrawnAt) })
	return list, nil
}
