package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
)

// Amounts are stored as text so SQLite's numeric affinity never rounds them
// through float64.

type poolRecord struct {
	Asset           string          `gorm:"primaryKey;size:32"`
	CollateralAsset string          `gorm:"size:32"`
	TotalLiquidity  decimal.Decimal `gorm:"type:text;not null"`
	TotalLPShares   decimal.Decimal `gorm:"type:text;not null"`
	TotalBorrowed   decimal.Decimal `gorm:"type:text;not null"`
	BaseAPY         decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt       time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime:false"`
}

func (poolRecord) TableName() string { return "lending_pools" }

func newPoolRecord(p *lending.Pool) *poolRecord {
	return &poolRecord{
		Asset:           p.Asset,
		CollateralAsset: p.CollateralAsset,
		TotalLiquidity:  p.TotalLiquidity,
		TotalLPShares:   p.TotalLPShares,
		TotalBorrowed:   p.TotalBorrowed,
		BaseAPY:         p.BaseAPY,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func (r *poolRecord) model() *lending.Pool {
	return &lending.Pool{
		Asset:           r.Asset,
		CollateralAsset: r.CollateralAsset,
		TotalLiquidity:  r.TotalLiquidity,
		TotalLPShares:   r.TotalLPShares,
		TotalBorrowed:   r.TotalBorrowed,
		BaseAPY:         r.BaseAPY,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type positionRecord struct {
	Asset     string          `gorm:"primaryKey;size:32"`
	Provider  string          `gorm:"primaryKey;size:128"`
	LPShares  decimal.Decimal `gorm:"type:text;not null"`
	Deposited decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime:false"`
}

func (positionRecord) TableName() string { return "lending_positions" }

func newPositionRecord(p *lending.Position) *positionRecord {
	return &positionRecord{
		Asset:     p.Asset,
		Provider:  p.Provider,
		LPShares:  p.LPShares,
		Deposited: p.Deposited,
		UpdatedAt: p.UpdatedAt,
	}
}

func (r *positionRecord) model() *lending.Position {
	return &lending.Position{
		Asset:     r.Asset,
		Provider:  r.Provider,
		LPShares:  r.LPShares,
		Deposited: r.Deposited,
		UpdatedAt: r.UpdatedAt,
	}
}

type loanRecord struct {
	ID                     string          `gorm:"primaryKey;size:64"`
	Asset                  string          `gorm:"size:32;index:idx_loans_borrower"`
	Borrower               string          `gorm:"size:128;index:idx_loans_borrower"`
	LoanAmount             decimal.Decimal `gorm:"type:text;not null"`
	CollateralAsset        string          `gorm:"size:32"`
	CollateralAmount       decimal.Decimal `gorm:"type:text;not null"`
	CollateralizationRatio decimal.Decimal `gorm:"type:text;not null"`
	LiquidationThreshold   decimal.Decimal `gorm:"type:text;not null"`
	RepaymentMultiplier    decimal.Decimal `gorm:"type:text;not null"`
	RepaymentAmount        decimal.Decimal `gorm:"type:text;not null"`
	LiquidationPrice       decimal.Decimal `gorm:"type:text;not null"`
	Status                 string          `gorm:"size:16;index"`
	OriginatedAt           time.Time
	DueAt                  time.Time
	ClosedAt               *time.Time
}

func (loanRecord) TableName() string { return "lending_loans" }

func newLoanRecord(l *lending.Loan) *loanRecord {
	return &loanRecord{
		ID:                     l.ID,
		Asset:                  l.Asset,
		Borrower:               l.Borrower,
		LoanAmount:             l.LoanAmount,
		CollateralAsset:        l.CollateralAsset,
		CollateralAmount:       l.CollateralAmount,
		CollateralizationRatio: l.CollateralizationRatio,
		LiquidationThreshold:   l.LiquidationThreshold,
		RepaymentMultiplier:    l.RepaymentMultiplier,
		RepaymentAmount:        l.RepaymentAmount,
		LiquidationPrice:       l.LiquidationPrice,
		Status:                 string(l.Status),
		OriginatedAt:           l.OriginatedAt,
		DueAt:                  l.DueAt,
		ClosedAt:               l.ClosedAt,
	}
}

func (r *loanRecord) model() *lending.Loan {
	return &lending.Loan{
		ID:                     r.ID,
		Asset:                  r.Asset,
		Borrower:               r.Borrower,
		LoanAmount:             r.LoanAmount,
		CollateralAsset:        r.CollateralAsset,
		CollateralAmount:       r.CollateralAmount,
		CollateralizationRatio: r.CollateralizationRatio,
		LiquidationThreshold:   r.LiquidationThreshold,
		RepaymentMultiplier:    r.RepaymentMultiplier,
		RepaymentAmount:        r.RepaymentAmount,
		LiquidationPrice:       r.LiquidationPrice,
		Status:                 lending.LoanStatus(r.Status),
		OriginatedAt:           r.OriginatedAt,
		DueAt:                  r.DueAt,
		ClosedAt:               r.ClosedAt,
	}
}

type distributionRecord struct {
	ID            string          `gorm:"primaryKey;size:64"`
	HarvestID     string          `gorm:"size:128;uniqueIndex"`
	GroveID       string          `gorm:"size:128;index"`
	Asset         string          `gorm:"size:32"`
	FarmerAddress string          `gorm:"size:128"`
	TotalRevenue  decimal.Decimal `gorm:"type:text;not null"`
	FarmerShare   decimal.Decimal `gorm:"type:text;not null"`
	InvestorShare decimal.Decimal `gorm:"type:text;not null"`
	TotalSupply   decimal.Decimal `gorm:"type:text;not null"`
	Status        string          `gorm:"size:16;index"`
	Cursor        int
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	CompletedAt   *time.Time
}

func (distributionRecord) TableName() string { return "distributions" }

func newDistributionRecord(d *distribution.Distribution) *distributionRecord {
	return &distributionRecord{
		ID:            d.ID,
		HarvestID:     d.HarvestID,
		GroveID:       d.GroveID,
		Asset:         d.Asset,
		FarmerAddress: d.FarmerAddress,
		TotalRevenue:  d.TotalRevenue,
		FarmerShare:   d.FarmerShare,
		InvestorShare: d.InvestorShare,
		TotalSupply:   d.TotalSupply,
		Status:        string(d.Status),
		Cursor:        d.Cursor,
		CreatedAt:     d.CreatedAt,
		CompletedAt:   d.CompletedAt,
	}
}

func (r *distributionRecord) model(holders []holderRecord) *distribution.Distribution {
	d := &distribution.Distribution{
		ID:            r.ID,
		HarvestID:     r.HarvestID,
		GroveID:       r.GroveID,
		Asset:         r.Asset,
		FarmerAddress: r.FarmerAddress,
		TotalRevenue:  r.TotalRevenue,
		FarmerShare:   r.FarmerShare,
		InvestorShare: r.InvestorShare,
		TotalSupply:   r.TotalSupply,
		Status:        distribution.Status(r.Status),
		Cursor:        r.Cursor,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
		Holders:       make([]distribution.Holder, len(holders)),
	}
	for i, h := range holders {
		d.Holders[i] = distribution.Holder{Address: h.Address, Balance: h.Balance}
	}
	return d
}

// holderRecord is one snapshot entry; Position keeps snapshot order.
type holderRecord struct {
	DistributionID string          `gorm:"primaryKey;size:64"`
	Position       int             `gorm:"primaryKey;autoIncrement:false"`
	Address        string          `gorm:"size:128"`
	Balance        decimal.Decimal `gorm:"type:text;not null"`
}

func (holderRecord) TableName() string { return "distribution_holders" }

type claimRecord struct {
	DistributionID string          `gorm:"primaryKey;size:64"`
	Holder         string          `gorm:"primaryKey;size:128;index"`
	Share          decimal.Decimal `gorm:"type:text;not null"`
	Claimed        bool
	ClaimedAt      *time.Time
	Attempts       int
	Failed         bool
	LastError      string    `gorm:"size:512"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (claimRecord) TableName() string { return "distribution_claims" }

func newClaimRecord(c *distribution.Claim) *claimRecord {
	return &claimRecord{
		DistributionID: c.DistributionID,
		Holder:         c.Holder,
		Share:          c.Share,
		Claimed:        c.Claimed,
		ClaimedAt:      c.ClaimedAt,
		Attempts:       c.Attempts,
		Failed:         c.Failed,
		LastError:      c.LastError,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (r *claimRecord) model() *distribution.Claim {
	return &distribution.Claim{
		DistributionID: r.DistributionID,
		Holder:         r.Holder,
		Share:          r.Share,
		Claimed:        r.Claimed,
		ClaimedAt:      r.ClaimedAt,
		Attempts:       r.Attempts,
		Failed:         r.Failed,
		LastError:      r.LastError,
		UpdatedAt:      r.UpdatedAt,
	}
}

type withdrawalRecord struct {
	ID          string          `gorm:"primaryKey;size:64"`
	GroveID     string          `gorm:"size:128;index"`
	Farmer      string          `gorm:"size:128;index"`
	Asset       string          `gorm:"size:32"`
	Amount      decimal.Decimal `gorm:"type:text;not null"`
	WithdrawnAt time.Time
}

func (withdrawalRecord) TableName() string { return "farmer_withdrawals" }

func (r *withdrawalRecord) model() *distribution.Withdrawal {
	return &distribution.Withdrawal{
		ID:          r.ID,
		GroveID:     r.GroveID,
		Farmer:      r.Farmer,
		Asset:       r.Asset,
		Amount:      r.Amount,
		WithdrawnAt: r.WithdrawnAt,
	}
}
