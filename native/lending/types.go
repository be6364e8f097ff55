package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool captures the accounting state of a single-asset liquidity pool.
// TotalLiquidity includes funds currently lent out, so the free balance of the
// pool account equals TotalLiquidity minus TotalBorrowed.
type Pool struct {
	Asset string
	// CollateralAsset is the token borrowers pledge against loans of Asset.
	CollateralAsset string
	TotalLiquidity  decimal.Decimal
	TotalLPShares   decimal.Decimal
	TotalBorrowed   decimal.Decimal
	// BaseAPY is the advertised supplier yield expressed as a fraction.
	BaseAPY   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the liquidity not currently lent out.
func (p *Pool) Available() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.TotalLiquidity.Sub(p.TotalBorrowed)
}

// Clone returns a copy safe to mutate without touching the stored pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Position tracks the LP shares a provider holds in a pool. Deposited is the
// provider's remaining cost basis, used to split withdrawals into principal
// and rewards.
type Position struct {
	Asset     string
	Provider  string
	LPShares  decimal.Decimal
	Deposited decimal.Decimal
	UpdatedAt time.Time
}

// Clone returns a copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// LoanStatus enumerates the loan lifecycle.
type LoanStatus string

const (
	LoanActive     LoanStatus = "active"
	LoanRepaid     LoanStatus = "repaid"
	LoanLiquidated LoanStatus = "liquidated"
)

// Loan is a collateralised borrow against a pool. At most one loan per
// (borrower, asset) may be active; closed loans are kept by ID.
type Loan struct {
	ID                     string
	Asset                  string
	Borrower               string
	LoanAmount             decimal.Decimal
	CollateralAsset        string
	CollateralAmount       decimal.Decimal
	CollateralizationRatio decimal.Decimal
	LiquidationThreshold   decimal.Decimal
	RepaymentMultiplier    decimal.Decimal
	RepaymentAmount        decimal.Decimal
	LiquidationPrice       decimal.Decimal
	Status                 LoanStatus
	OriginatedAt           time.Time
	DueAt                  time.Time
	ClosedAt               *time.Time
}

// Clone returns a copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.ClosedAt != nil {
		closed := *l.ClosedAt
		clone.ClosedAt = &closed
	}
	return &clone
}

// Active reports whether the loan still holds locked collateral.
func (l *Loan) Active() bool {
	return l != nil && l.Status == LoanActive
}

// Terms is the quote returned before a loan is taken.
type Terms struct {
	LoanAmount       decimal.Decimal
	CollateralAmount decimal.Decimal
	LiquidationPrice decimal.Decimal
	RepaymentAmount  decimal.Decimal
	InterestRate     decimal.Decimal
	MaxLoanDuration  time.Duration
}

// HealthBand classifies a health factor.
type HealthBand string

const (
	HealthHealthy HealthBand = "healthy"
	HealthWarning HealthBand = "warning"
	HealthAtRisk  HealthBand = "at-risk"
)

// LoanHealth pairs a loan with its health at the observed price.
type LoanHealth struct {
	Loan         *Loan
	Price        decimal.Decimal
	PriceStale   bool
	HealthFactor decimal.Decimal
	Band         HealthBand
}

// Repayment describes a settled loan.
type Repayment struct {
	Loan               *Loan
	CollateralReleased decimal.Decimal
	InterestPaid       decimal.Decimal
}

// Liquidation describes a loan closed through the liquidation hook.
type Liquidation struct {
	Loan         *Loan
	HealthFactor decimal.Decimal
	Recovered    decimal.Decimal
	Shortfall    decimal.Decimal
}

// PoolStats summarises a pool for dashboards.
type PoolStats struct {
	Pool               *Pool
	AvailableLiquidity decimal.Decimal
	UtilisationRate    decimal.Decimal
	CurrentAPY         decimal.Decimal
	Providers          int
	ActiveLoans        int
	AverageLoanSize    decimal.Decimal
}

// PositionView is a provider's position with its current pool share.
type PositionView struct {
	Asset        string
	Provider     string
	LPShares     decimal.Decimal
	Deposited    decimal.Decimal
	SharePercent decimal.Decimal
	Value        decimal.Decimal
}
