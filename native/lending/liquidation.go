package lending

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Liquidate closes an at-risk loan through seizer. The loan's health is
// recomputed from the live price; loans with a health factor of one or more
// are rejected. The amount recovered by the seizer is credited to the pool and
// any shortfall against the principal is written off against liquidity.
func (e *Engine) Liquidate(ctx context.Context, asset, borrower string, seizer CollateralSeizer) (Liquidation, error) {
	if err := e.guard(); err != nil {
		return Liquidation{}, err
	}
	if seizer == nil {
		return Liquidation{}, errNilSeizer
	}
	asset, err := cleanAsset(asset)
	if err != nil {
		return Liquidation{}, err
	}
	if borrower, err = cleanAddress(borrower); err != nil {
		return Liquidation{}, err
	}

	unlock := e.lockPool(asset)
	defer unlock()

	loan, err := e.state.ActiveLoan(ctx, asset, borrower)
	if err != nil {
		return Liquidation{}, fmt.Errorf("lending: load loan: %w", err)
	}
	if !loan.Active() {
		return Liquidation{}, ErrLoanNotFound
	}
	loan = loan.Clone()
	health, err := e.assess(ctx, loan)
	if err != nil {
		return Liquidation{}, err
	}
	if health.Band != HealthAtRisk {
		return Liquidation{}, fmt.Errorf("%w: health factor %s", ErrNotLiquidatable, health.HealthFactor)
	}
	pool, err := e.loadPool(ctx, asset)
	if err != nil {
		return Liquidation{}, err
	}
	if pool == nil {
		return Liquidation{}, ErrPoolNotFound
	}

	if err := ctx.Err(); err != nil {
		return Liquidation{}, err
	}
	// The seizure cannot be undone, so recording it must not depend on ctx.
	settleCtx := context.WithoutCancel(ctx)
	recovered, err := seizer.Seize(settleCtx, loan.Clone(), health.Price, e.params.PoolAccount(asset))
	if err != nil {
		return Liquidation{}, fmt.Errorf("lending: seize collateral: %w", err)
	}
	if recovered.IsNegative() {
		recovered = decimal.Zero
	}

	now := e.now()
	loan.Status = LoanLiquidated
	loan.ClosedAt = &now
	pool.TotalBorrowed = pool.TotalBorrowed.Sub(loan.LoanAmount)
	pool.TotalLiquidity = pool.TotalLiquidity.Add(recovered).Sub(loan.LoanAmount)
	pool.UpdatedAt = now

	if err := e.state.Commit(settleCtx, Batch{Pool: pool, Loan: loan}); err != nil {
		// The seizure already happened outside the engine and cannot be
		// reversed here.
		e.logger.Error("liquidation settled but not recorded",
			slog.String("loan_id", loan.ID),
			slog.String("recovered", recovered.String()),
			slog.Any("error", err))
		return Liquidation{}, fmt.Errorf("lending: commit liquidation: %w", err)
	}

	shortfall := loan.LoanAmount.Sub(recovered)
	if shortfall.IsNegative() {
		shortfall = decimal.Zero
	}
	e.logger.Warn("loan liquidated",
		slog.String("loan_id", loan.ID),
		slog.String("asset", asset),
		slog.String("borrower", borrower),
		slog.String("health_factor", health.HealthFactor.String()),
		slog.String("recovered", recovered.String()),
		slog.String("shortfall", shortfall.String()))
	return Liquidation{Loan: loan.Clone(), HealthFactor: health.HealthFactor, Recovered: recovered, Shortfall: shortfall}, nil
}
