package lending

import "github.com/shopspring/decimal"

// InterestModel lifts the advertised supplier APY above a pool's base rate as
// utilisation grows. A nil model leaves the base APY unchanged.
type InterestModel struct {
	// Slope1 is the APY increase per unit of utilisation up to the kink point.
	Slope1 decimal.Decimal
	// Slope2 governs the additional increase applied beyond the kink.
	Slope2 decimal.Decimal
	// Kink represents the utilisation ratio where the slope changes.
	Kink decimal.Decimal
}

// Clone returns a copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Utilisation computes U = totalBorrowed / totalLiquidity. When no liquidity
// exists the utilisation is defined as zero.
func Utilisation(totalBorrowed, totalLiquidity decimal.Decimal) decimal.Decimal {
	if !totalBorrowed.IsPositive() || !totalLiquidity.IsPositive() {
		return decimal.Zero
	}
	return totalBorrowed.DivRound(totalLiquidity, 8)
}

// SupplyAPY derives the current supplier APY from the base rate and the pool
// utilisation.
func (m *InterestModel) SupplyAPY(base decimal.Decimal, pool *Pool) decimal.Decimal {
	if m == nil || pool == nil {
		return base
	}
	utilisation := Utilisation(pool.TotalBorrowed, pool.TotalLiquidity)
	if utilisation.IsZero() {
		return base
	}
	if m.Kink.IsZero() || utilisation.LessThanOrEqual(m.Kink) {
		// Linear region before the kink.
		return base.Add(m.Slope1.Mul(utilisation)).Round(8)
	}
	rate := base.Add(m.Slope1.Mul(m.Kink))
	excess := utilisation.Sub(m.Kink)
	return rate.Add(m.Slope2.Mul(excess)).Round(8)
}
