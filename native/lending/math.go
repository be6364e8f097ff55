package lending

import (
	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/common"
)

var (
	healthyFloor = decimal.RequireFromString("1.2")
	atRiskFloor  = decimal.NewFromInt(1)
)

const ratioPrecision = 8

// mulDivCeil computes a*b/c rounded up to places so that collateral
// requirements never round in the borrower's favour.
func mulDivCeil(a, b, c decimal.Decimal, places int32) decimal.Decimal {
	if !c.IsPositive() {
		return decimal.Zero
	}
	quotient, remainder := a.Mul(b).QuoRem(c, places)
	if !remainder.IsZero() {
		quotient = quotient.Add(decimal.New(1, -places))
	}
	return quotient
}

// CalculateLoanTerms quotes the collateral, liquidation price and repayment
// owed for borrowing loanAmount against collateral priced at collateralPrice.
func CalculateLoanTerms(params Params, loanAmount, collateralPrice decimal.Decimal) (Terms, error) {
	params = params.withDefaults()
	if !loanAmount.IsPositive() {
		return Terms{}, ErrInvalidAmount
	}
	if !collateralPrice.IsPositive() {
		return Terms{}, ErrInvalidPrice
	}
	collateral := mulDivCeil(loanAmount, params.CollateralizationRatio, collateralPrice, params.AmountPrecision)
	liquidationPrice := loanAmount.DivRound(collateral.Mul(params.LiquidationThreshold), ratioPrecision)
	return Terms{
		LoanAmount:       loanAmount,
		CollateralAmount: collateral,
		LiquidationPrice: liquidationPrice,
		RepaymentAmount:  common.FloorTo(loanAmount.Mul(params.RepaymentMultiplier), params.AmountPrecision),
		InterestRate:     params.RepaymentMultiplier.Sub(decimal.NewFromInt(1)),
		MaxLoanDuration:  params.LoanTerm,
	}, nil
}

// HealthFactor returns collateral × price × threshold / loanAmount. Values
// below one make the loan eligible for liquidation.
func HealthFactor(loan *Loan, price decimal.Decimal) decimal.Decimal {
	if loan == nil || !loan.LoanAmount.IsPositive() {
		return decimal.Zero
	}
	value := loan.CollateralAmount.Mul(price).Mul(loan.LiquidationThreshold)
	return value.DivRound(loan.LoanAmount, ratioPrecision)
}

// Band classifies a health factor.
func Band(healthFactor decimal.Decimal) HealthBand {
	switch {
	case healthFactor.GreaterThanOrEqual(healthyFloor):
		return HealthHealthy
	case healthFactor.GreaterThanOrEqual(atRiskFloor):
		return HealthWarning
	default:
		return HealthAtRisk
	}
}

// SharePercent returns lpShares as a percentage of totalLPShares, zero when
// the pool has no shares.
func SharePercent(lpShares, totalLPShares decimal.Decimal) decimal.Decimal {
	return common.Percent(lpShares, totalLPShares)
}
