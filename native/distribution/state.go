package distribution

import "context"

// Filter narrows distribution listings. Zero fields match everything.
type Filter struct {
	Status  Status
	GroveID string
}

// WithdrawalFilter narrows farmer withdrawal listings.
type WithdrawalFilter struct {
	GroveID string
	Farmer  string
}

// State is the persistence contract of the distribution engine. Lookups return
// a nil value and nil error for missing records. Commit applies a batch
// atomically.
type State interface {
	Distribution(ctx context.Context, id string) (*Distribution, error)
	DistributionByHarvest(ctx context.Context, harvestID string) (*Distribution, error)
	Distributions(ctx context.Context, filter Filter) ([]*Distribution, error)
	Claim(ctx context.Context, distributionID, holder string) (*Claim, error)
	Claims(ctx context.Context, distributionID string) ([]*Claim, error)
	HolderClaims(ctx context.Context, holder string) ([]*Claim, error)
	Withdrawals(ctx context.Context, filter WithdrawalFilter) ([]*Withdrawal, error)
	Commit(ctx context.Context, batch Batch) error
}

// Batch is a set of writes applied together.
type Batch struct {
	Distribution *Distribution
	Claims       []*Claim
	Withdrawal   *Withdrawal
}
