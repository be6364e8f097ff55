package distribution

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the distribution lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Holder is one entry of the frozen token-holder snapshot.
type Holder struct {
	Address string
	Balance decimal.Decimal
}

// Distribution splits one harvest's revenue between the farmer and the token
// holders captured in the snapshot. Only Status, Cursor and CompletedAt change
// after creation.
type Distribution struct {
	ID            string
	HarvestID     string
	GroveID       string
	Asset         string
	FarmerAddress string
	TotalRevenue  decimal.Decimal
	FarmerShare   decimal.Decimal
	InvestorShare decimal.Decimal
	Holders       []Holder
	TotalSupply   decimal.Decimal
	Status        Status
	// Cursor is the index of the next holder the batch processor will visit.
	Cursor      int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Clone returns a deep copy of the distribution.
func (d *Distribution) Clone() *Distribution {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Holders = append([]Holder(nil), d.Holders...)
	if d.CompletedAt != nil {
		completed := *d.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

// Remaining reports how many holders the batch processor has not visited.
func (d *Distribution) Remaining() int {
	if d == nil {
		return 0
	}
	remaining := len(d.Holders) - d.Cursor
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Claim records a holder's entitlement within one distribution and whether it
// has been paid.
type Claim struct {
	DistributionID string
	Holder         string
	Share          decimal.Decimal
	Claimed        bool
	ClaimedAt      *time.Time
	Attempts       int
	// Failed marks a holder the batch processor gave up on.
	Failed    bool
	LastError string
	UpdatedAt time.Time
}

// Clone returns a copy of the claim.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	clone := *c
	if c.ClaimedAt != nil {
		claimed := *c.ClaimedAt
		clone.ClaimedAt = &claimed
	}
	return &clone
}

// Withdrawal is a farmer withdrawal against a grove's accumulated farmer share.
type Withdrawal struct {
	ID          string
	GroveID     string
	Farmer      string
	Asset       string
	Amount      decimal.Decimal
	WithdrawnAt time.Time
}

// CreateRequest carries a harvest report into the engine.
type CreateRequest struct {
	HarvestID     string
	GroveID       string
	FarmerAddress string
	TotalRevenue  decimal.Decimal
	Holders       []Holder
	TotalSupply   decimal.Decimal
}

// BatchResult summarises one pass of the batch processor.
type BatchResult struct {
	DistributionID string
	Processed      int
	Succeeded      int
	Failed         int
	Skipped        int
	FailedHolders  []string
	Remaining      int
	Completed      bool
}

func (r *BatchResult) merge(other BatchResult) {
	r.Processed += other.Processed
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.FailedHolders = append(r.FailedHolders, other.FailedHolders...)
	r.Remaining = other.Remaining
	r.Completed = other.Completed
}

// RunResult aggregates the batches executed by Run.
type RunResult struct {
	BatchResult
	Batches int
}

// FarmerBalance reports a grove farmer's withdrawable revenue.
type FarmerBalance struct {
	GroveID        string
	Farmer         string
	TotalEarned    decimal.Decimal
	TotalWithdrawn decimal.Decimal
	Available      decimal.Decimal
}

// HolderSummary is one row of a distribution summary.
type HolderSummary struct {
	Address      string
	Balance      decimal.Decimal
	Share        decimal.Decimal
	SharePercent decimal.Decimal
	Claimed      bool
	Failed       bool
	Attempts     int
}

// Summary reports a distribution's payout progress.
type Summary struct {
	Distribution *Distribution
	Holders      []HolderSummary
	TotalClaimed decimal.Decimal
	TotalPending decimal.Decimal
	ClaimedCount int
	FailedCount  int
}

// ValidationReport lists the problems found in a distribution. Errors make
// the distribution invalid; warnings are advisory.
type ValidationReport struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// HistoryEntry is one distribution a holder participated in.
type HistoryEntry struct {
	DistributionID string
	HarvestID      string
	GroveID        string
	Asset          string
	Share          decimal.Decimal
	Claimed        bool
	ClaimedAt      *time.Time
	Failed         bool
	CreatedAt      time.Time
}

// Earnings aggregates a holder's distribution income.
type Earnings struct {
	Holder        string
	TotalEarned   decimal.Decimal
	TotalPending  decimal.Decimal
	Distributions int
	// AverageShare is TotalEarned divided by Distributions, two decimal places.
	AverageShare decimal.Decimal
	ByGrove      map[string]decimal.Decimal
}
