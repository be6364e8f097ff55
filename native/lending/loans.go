package lending

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// LoanTerms quotes a loan using the engine's parameters.
func (e *Engine) LoanTerms(loanAmount, collateralPrice decimal.Decimal) (Terms, error) {
	return CalculateLoanTerms(e.params, loanAmount, collateralPrice)
}

// OriginateLoan locks the borrower's collateral and disburses loanAmount from
// the pool. Collateral is sized from the caller-supplied collateralPrice.
func (e *Engine) OriginateLoan(ctx context.Context, asset, borrower string, loanAmount, collateralPrice decimal.Decimal) (*Loan, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	asset, err := cleanAsset(asset)
	if err != nil {
		return nil, err
	}
	if borrower, err = cleanAddress(borrower); err != nil {
		return nil, err
	}
	terms, err := e.LoanTerms(loanAmount, collateralPrice)
	if err != nil {
		return nil, err
	}

	unlock := e.lockPool(asset)
	defer unlock()

	existing, err := e.state.ActiveLoan(ctx, asset, borrower)
	if err != nil {
		return nil, fmt.Errorf("lending: load loan: %w", err)
	}
	if existing.Active() {
		return nil, ErrDuplicateLoan
	}
	pool, err := e.loadPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	if pool == nil || loanAmount.GreaterThan(pool.Available()) {
		return nil, ErrInsufficientLiquidity
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	settleCtx := context.WithoutCancel(ctx)
	collateralAsset := pool.CollateralAsset
	if err := e.ledger.LockCollateral(settleCtx, collateralAsset, borrower, terms.CollateralAmount); err != nil {
		return nil, translateLedger(err, ErrInsufficientCollateral)
	}
	release := func(ctx context.Context) error {
		return e.ledger.ReleaseCollateral(ctx, collateralAsset, borrower, terms.CollateralAmount)
	}
	poolAccount := e.params.PoolAccount(asset)
	if err := e.ledger.Transfer(settleCtx, asset, poolAccount, borrower, loanAmount); err != nil {
		e.compensate(ctx, "originate/release", release)
		return nil, translateLedger(err, ErrInsufficientLiquidity)
	}

	now := e.now()
	loan := &Loan{
		ID:                     e.newID(),
		Asset:                  asset,
		Borrower:               borrower,
		LoanAmount:             loanAmount,
		CollateralAsset:        collateralAsset,
		CollateralAmount:       terms.CollateralAmount,
		CollateralizationRatio: e.params.CollateralizationRatio,
		LiquidationThreshold:   e.params.LiquidationThreshold,
		RepaymentMultiplier:    e.params.RepaymentMultiplier,
		RepaymentAmount:        terms.RepaymentAmount,
		LiquidationPrice:       terms.LiquidationPrice,
		Status:                 LoanActive,
		OriginatedAt:           now,
		DueAt:                  now.Add(e.params.LoanTerm),
	}
	pool.TotalBorrowed = pool.TotalBorrowed.Add(loanAmount)
	pool.UpdatedAt = now

	if err := e.state.Commit(settleCtx, Batch{Pool: pool, Loan: loan}); err != nil {
		e.compensate(ctx, "originate/return", func(ctx context.Context) error {
			return e.ledger.Transfer(ctx, asset, borrower, poolAccount, loanAmount)
		})
		e.compensate(ctx, "originate/release", release)
		return nil, fmt.Errorf("lending: commit loan: %w", err)
	}
	e.logger.Info("loan originated",
		slog.String("loan_id", loan.ID),
		slog.String("asset", asset),
		slog.String("borrower", borrower),
		slog.String("amount", loanAmount.String()),
		slog.String("collateral", terms.CollateralAmount.String()))
	return loan.Clone(), nil
}

// RepayLoan settles the borrower's active loan in full: the repayment amount is
// pulled into the pool, the collateral is released and the interest accrues to
// liquidity providers.
func (e *Engine) RepayLoan(ctx context.Context, asset, borrower string) (Repayment, error) {
	if err := e.guard(); err != nil {
		return Repayment{}, err
	}
	asset, err := cleanAsset(asset)
	if err != nil {
		return Repayment{}, err
	}
	if borrower, err = cleanAddress(borrower); err != nil {
		return Repayment{}, err
	}

	unlock := e.lockPool(asset)
	defer unlock()

	loan, err := e.state.ActiveLoan(ctx, asset, borrower)
	if err != nil {
		return Repayment{}, fmt.Errorf("lending: load loan: %w", err)
	}
	if !loan.Active() {
		return Repayment{}, ErrLoanNotFound
	}
	loan = loan.Clone()
	pool, err := e.loadPool(ctx, asset)
	if err != nil {
		return Repayment{}, err
	}
	if pool == nil {
		return Repayment{}, ErrPoolNotFound
	}

	if err := ctx.Err(); err != nil {
		return Repayment{}, err
	}
	settleCtx := context.WithoutCancel(ctx)
	poolAccount := e.params.PoolAccount(asset)
	if err := e.ledger.Transfer(settleCtx, asset, borrower, poolAccount, loan.RepaymentAmount); err != nil {
		return Repayment{}, translateLedger(err, ErrInsufficientBalance)
	}
	refund := func(ctx context.Context) error {
		return e.ledger.Transfer(ctx, asset, poolAccount, borrower, loan.RepaymentAmount)
	}
	if err := e.ledger.ReleaseCollateral(settleCtx, loan.CollateralAsset, borrower, loan.CollateralAmount); err != nil {
		e.compensate(ctx, "repay/refund", refund)
		return Repayment{}, fmt.Errorf("lending: release collateral: %w", err)
	}

	now := e.now()
	interest := loan.RepaymentAmount.Sub(loan.LoanAmount)
	loan.Status = LoanRepaid
	loan.ClosedAt = &now
	pool.TotalBorrowed = pool.TotalBorrowed.Sub(loan.LoanAmount)
	pool.TotalLiquidity = pool.TotalLiquidity.Add(interest)
	pool.UpdatedAt = now

	if err := e.state.Commit(settleCtx, Batch{Pool: pool, Loan: loan}); err != nil {
		e.compensate(ctx, "repay/relock", func(ctx context.Context) error {
			return e.ledger.LockCollateral(ctx, loan.CollateralAsset, borrower, loan.CollateralAmount)
		})
		e.compensate(ctx, "repay/refund", refund)
		return Repayment{}, fmt.Errorf("lending: commit repayment: %w", err)
	}
	e.logger.Info("loan repaid",
		slog.String("loan_id", loan.ID),
		slog.String("asset", asset),
		slog.String("borrower", borrower),
		slog.String("repaid", loan.RepaymentAmount.String()))
	return Repayment{Loan: loan.Clone(), CollateralReleased: loan.CollateralAmount, InterestPaid: interest}, nil
}

// Loans lists the loans of asset filtered by status; an empty status returns
// the full history.
func (e *Engine) Loans(ctx context.Context, asset string, status LoanStatus) ([]*Loan, error) {
	asset, err := cleanAsset(asset)
	if err != nil {
		return nil, err
	}
	loans, err := e.state.Loans(ctx, asset, status)
	if err != nil {
		return nil, fmt.Errorf("lending: list loans: %w", err)
	}
	return loans, nil
}
