package lending

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/common"
)

func (e *Engine) loadPool(ctx context.Context, asset string) (*Pool, error) {
	pool, err := e.state.Pool(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("lending: load pool: %w", err)
	}
	return pool.Clone(), nil
}

func (e *Engine) newPool(asset string) *Pool {
	market := e.params.market(asset)
	now := e.now()
	return &Pool{
		Asset:           asset,
		CollateralAsset: market.CollateralAsset,
		TotalLiquidity:  decimal.Zero,
		TotalLPShares:   decimal.Zero,
		TotalBorrowed:   decimal.Zero,
		BaseAPY:         market.BaseAPY,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ProvideLiquidity moves amount from provider into the asset's pool and mints
// LP shares. The first deposit into an empty pool mints shares 1:1; later
// deposits mint amount × TotalLPShares / TotalLiquidity rounded down.
func (e *Engine) ProvideLiquidity(ctx context.Context, asset, provider string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := e.guard(); err != nil {
		return decimal.Zero, err
	}
	asset, err := cleanAsset(asset)
	if err != nil {
		return decimal.Zero, err
	}
	if provider, err = cleanAddress(provider); err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	unlock := e.lockPool(asset)
	defer unlock()

	pool, err := e.loadPool(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if pool == nil {
		pool = e.newPool(asset)
	}
	position, err := e.state.Position(ctx, asset, provider)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lending: load position: %w", err)
	}
	position = position.Clone()
	if position == nil {
		position = &Position{Asset: asset, Provider: provider, LPShares: decimal.Zero, Deposited: decimal.Zero}
	}

	var minted decimal.Decimal
	switch {
	case pool.TotalLPShares.IsZero():
		minted = common.FloorTo(amount, e.params.SharePrecision)
	case !pool.TotalLiquidity.IsPositive():
		// Shares outstanding against a fully written-off pool cannot be priced.
		return decimal.Zero, fmt.Errorf("%w: pool %s has no liquidity backing its shares", ErrEmptyPool, asset)
	default:
		minted = common.MulDivFloor(amount, pool.TotalLPShares, pool.TotalLiquidity, e.params.SharePrecision)
	}
	if !minted.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: deposit too small to mint shares", ErrInvalidAmount)
	}

	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	// Past this point the ledger moves; the bookkeeping must follow regardless of ctx.
	settleCtx := context.WithoutCancel(ctx)
	poolAccount := e.params.PoolAccount(asset)
	if err := e.ledger.Transfer(settleCtx, asset, provider, poolAccount, amount); err != nil {
		return decimal.Zero, translateLedger(err, ErrInsufficientBalance)
	}

	now := e.now()
	pool.TotalLiquidity = pool.TotalLiquidity.Add(amount)
	pool.TotalLPShares = pool.TotalLPShares.Add(minted)
	pool.UpdatedAt = now
	position.LPShares = position.LPShares.Add(minted)
	position.Deposited = position.Deposited.Add(amount)
	position.UpdatedAt = now

	if err := e.state.Commit(settleCtx, Batch{Pool: pool, Position: position}); err != nil {
		e.compensate(ctx, "provide", func(ctx context.Context) error {
			return e.ledger.Transfer(ctx, asset, poolAccount, provider, amount)
		})
		return decimal.Zero, fmt.Errorf("lending: commit provide: %w", err)
	}
	e.logger.Info("liquidity provided",
		slog.String("asset", asset),
		slog.String("provider", provider),
		slog.String("amount", amount.String()),
		slog.String("shares", minted.String()))
	return minted, nil
}

// WithdrawLiquidity burns lpShares and returns the underlying asset together
// with the rewards portion of that amount. Rewards are the excess of the
// returned asset over the provider's cost basis for the burned shares.
func (e *Engine) WithdrawLiquidity(ctx context.Context, asset, provider string, lpShares decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if err := e.guard(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	asset, err := cleanAsset(asset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if provider, err = cleanAddress(provider); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !lpShares.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}

	unlock := e.lockPool(asset)
	defer unlock()

	pool, err := e.loadPool(ctx, asset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if pool == nil || pool.TotalLPShares.IsZero() {
		return decimal.Zero, decimal.Zero, ErrEmptyPool
	}
	position, err := e.state.Position(ctx, asset, provider)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("lending: load position: %w", err)
	}
	position = position.Clone()
	if position == nil || position.LPShares.LessThan(lpShares) {
		return decimal.Zero, decimal.Zero, ErrInsufficientBalance
	}

	returned := common.MulDivFloor(lpShares, pool.TotalLiquidity, pool.TotalLPShares, e.params.AmountPrecision)
	if returned.GreaterThan(pool.Available()) {
		return decimal.Zero, decimal.Zero, ErrInsufficientLiquidity
	}
	principal := position.Deposited
	if lpShares.LessThan(position.LPShares) {
		principal = common.MulDivFloor(position.Deposited, lpShares, position.LPShares, e.params.AmountPrecision)
	}
	rewards := returned.Sub(principal)
	if rewards.IsNegative() {
		rewards = decimal.Zero
	}

	if err := ctx.Err(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	settleCtx := context.WithoutCancel(ctx)
	poolAccount := e.params.PoolAccount(asset)
	if returned.IsPositive() {
		if err := e.ledger.Transfer(settleCtx, asset, poolAccount, provider, returned); err != nil {
			return decimal.Zero, decimal.Zero, translateLedger(err, ErrInsufficientLiquidity)
		}
	}

	now := e.now()
	pool.TotalLPShares = pool.TotalLPShares.Sub(lpShares)
	pool.TotalLiquidity = pool.TotalLiquidity.Sub(returned)
	pool.UpdatedAt = now
	position.LPShares = position.LPShares.Sub(lpShares)
	position.Deposited = position.Deposited.Sub(principal)
	position.UpdatedAt = now

	batch := Batch{Pool: pool, Position: position, DeletePosition: position.LPShares.IsZero()}
	if err := e.state.Commit(settleCtx, batch); err != nil {
		if returned.IsPositive() {
			e.compensate(ctx, "withdraw", func(ctx context.Context) error {
				return e.ledger.Transfer(ctx, asset, provider, poolAccount, returned)
			})
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("lending: commit withdraw: %w", err)
	}
	e.logger.Info("liquidity withdrawn",
		slog.String("asset", asset),
		slog.String("provider", provider),
		slog.String("shares", lpShares.String()),
		slog.String("returned", returned.String()),
		slog.String("rewards", rewards.String()))
	return returned, rewards, nil
}

// Pool returns the pool for asset.
func (e *Engine) Pool(ctx context.Context, asset string) (*Pool, error) {
	asset, err := cleanAsset(asset)
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// ListPools returns every pool sorted by asset.
func (e *Engine) ListPools(ctx context.Context) ([]*Pool, error) {
	pools, err := e.state.Pools(ctx)
	if err != nil {
		return nil, fmt.Errorf("lending: list pools: %w", err)
	}
	out := make([]*Pool, 0, len(pools))
	for _, pool := range pools {
		out = append(out, pool.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// Position returns the provider's position in asset's pool. A provider without
// shares receives a zero-valued view.
func (e *Engine) Position(ctx context.Context, asset, provider string) (PositionView, error) {
	asset, err := cleanAsset(asset)
	if err != nil {
		return PositionView{}, err
	}
	if provider, err = cleanAddress(provider); err != nil {
		return PositionView{}, err
	}
	pool, err := e.Pool(ctx, asset)
	if err != nil {
		return PositionView{}, err
	}
	position, err := e.state.Position(ctx, asset, provider)
	if err != nil {
		return PositionView{}, fmt.Errorf("lending: load position: %w", err)
	}
	view := PositionView{Asset: asset, Provider: provider, LPShares: decimal.Zero, Deposited: decimal.Zero, SharePercent: decimal.Zero, Value: decimal.Zero}
	if position == nil {
		return view, nil
	}
	view.LPShares = position.LPShares
	view.Deposited = position.Deposited
	view.SharePercent = SharePercent(position.LPShares, pool.TotalLPShares)
	if pool.TotalLPShares.IsPositive() {
		view.Value = common.MulDivFloor(position.LPShares, pool.TotalLiquidity, pool.TotalLPShares, e.params.AmountPrecision)
	}
	return view, nil
}

// PoolStats summarises utilisation and participation for asset's pool.
func (e *Engine) PoolStats(ctx context.Context, asset string) (PoolStats, error) {
	pool, err := e.Pool(ctx, asset)
	if err != nil {
		return PoolStats{}, err
	}
	positions, err := e.state.Positions(ctx, pool.Asset)
	if err != nil {
		return PoolStats{}, fmt.Errorf("lending: list positions: %w", err)
	}
	loans, err := e.state.Loans(ctx, pool.Asset, LoanActive)
	if err != nil {
		return PoolStats{}, fmt.Errorf("lending: list loans: %w", err)
	}
	stats := PoolStats{
		Pool:               pool,
		AvailableLiquidity: pool.Available(),
		UtilisationRate:    Utilisation(pool.TotalBorrowed, pool.TotalLiquidity),
		CurrentAPY:         e.interest.SupplyAPY(pool.BaseAPY, pool),
		Providers:          len(positions),
		ActiveLoans:        len(loans),
		AverageLoanSize:    decimal.Zero,
	}
	if len(loans) > 0 {
		total := decimal.Zero
		for _, loan := range loans {
			total = total.Add(loan.LoanAmount)
		}
		stats.AverageLoanSize = total.DivRound(decimal.NewFromInt(int64(len(loans))), e.params.AmountPrecision)
	}
	return stats, nil
}
