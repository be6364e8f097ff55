package lending

import (
	"context"

	"github.com/shopspring/decimal"
)

// State is the persistence contract the engine depends on. Lookups return a
// nil value and a nil error when the record does not exist. Commit must apply
// every record in the batch atomically.
type State interface {
	Pool(ctx context.Context, asset string) (*Pool, error)
	Pools(ctx context.Context) ([]*Pool, error)
	Position(ctx context.Context, asset, provider string) (*Position, error)
	Positions(ctx context.Context, asset string) ([]*Position, error)
	ActiveLoan(ctx context.Context, asset, borrower string) (*Loan, error)
	// Loans lists loans of asset, filtered by status when status is non-empty.
	Loans(ctx context.Context, asset string, status LoanStatus) ([]*Loan, error)
	Commit(ctx context.Context, batch Batch) error
}

// Batch is a set of writes applied together.
type Batch struct {
	Pool     *Pool
	Position *Position
	// DeletePosition removes the (Position.Asset, Position.Provider) record
	// instead of upserting it.
	DeletePosition bool
	Loan           *Loan
}

// CollateralSeizer settles a liquidation outside the engine. Implementations
// take custody of the borrower's locked collateral, convert it, and deliver
// the recovered loan asset to poolAccount. The returned amount is credited to
// the pool.
type CollateralSeizer interface {
	Seize(ctx context.Context, loan *Loan, price decimal.Decimal, poolAccount string) (decimal.Decimal, error)
}

// SeizerFunc adapts a function into a CollateralSeizer.
type SeizerFunc func(ctx context.Context, loan *Loan, price decimal.Decimal, poolAccount string) (decimal.Decimal, error)

// Seize implements CollateralSeizer.
func (f SeizerFunc) Seize(ctx context.Context, loan *Loan, price decimal.Decimal, poolAccount string) (decimal.Decimal, error) {
	return f(ctx, loan, price, poolAccount)
}
