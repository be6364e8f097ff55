package lending

import (
	"context"
	"fmt"
	"sort"

	"github.com/i-mwangi/chai-project-sub002/native/pricing"
)

func (e *Engine) quote(ctx context.Context, asset string) (pricing.Quote, error) {
	if e.prices == nil {
		return pricing.Quote{}, fmt.Errorf("%w: no price source configured", ErrInvalidPrice)
	}
	quote, err := e.prices.CurrentPrice(ctx, asset)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("%w: %w", ErrInvalidPrice, err)
	}
	if !quote.Price.IsPositive() {
		return pricing.Quote{}, ErrInvalidPrice
	}
	return quote, nil
}

func (e *Engine) assess(ctx context.Context, loan *Loan) (LoanHealth, error) {
	quote, err := e.quote(ctx, loan.CollateralAsset)
	if err != nil {
		return LoanHealth{}, err
	}
	factor := HealthFactor(loan, quote.Price)
	return LoanHealth{
		Loan:         loan.Clone(),
		Price:        quote.Price,
		PriceStale:   quote.Stale,
		HealthFactor: factor,
		Band:         Band(factor),
	}, nil
}

// LoanDetails returns the borrower's active loan with its health at the live
// collateral price.
func (e *Engine) LoanDetails(ctx context.Context, asset, borrower string) (LoanHealth, error) {
	asset, err := cleanAsset(asset)
	if err != nil {
		return LoanHealth{}, err
	}
	if borrower, err = cleanAddress(borrower); err != nil {
		return LoanHealth{}, err
	}
	loan, err := e.state.ActiveLoan(ctx, asset, borrower)
	if err != nil {
		return LoanHealth{}, fmt.Errorf("lending: load loan: %w", err)
	}
	if !loan.Active() {
		return LoanHealth{}, ErrLoanNotFound
	}
	return e.assess(ctx, loan)
}

// ScanHealth assesses every active loan of asset, weakest first. It is the pull
// surface for external liquidation keepers.
func (e *Engine) ScanHealth(ctx context.Context, asset string) ([]LoanHealth, error) {
	asset, err := cleanAsset(asset)
	if err != nil {
		return nil, err
	}
	loans, err := e.state.Loans(ctx, asset, LoanActive)
	if err != nil {
		return nil, fmt.Errorf("lending: list loans: %w", err)
	}
	out := make([]LoanHealth, 0, len(loans))
	for _, loan := range loans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		health, err := e.assess(ctx, loan)
		if err != nil {
			return nil, fmt.Errorf("lending: assess loan %s: %w", loan.ID, err)
		}
		out = append(out, health)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HealthFactor.LessThan(out[j].HealthFactor)
	})
	return out, nil
}

// CollateralQuote returns the live price of the collateral backing loans of
// asset.
func (e *Engine) CollateralQuote(ctx context.Context, asset string) (pricing.Quote, error) {
	asset, err := cleanAsset(asset)
	if err != nil {
		return pricing.Quote{}, err
	}
	return e.quote(ctx, e.params.market(asset).CollateralAsset)
}
