package distribution

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Params groups the payout settings of the engine.
type Params struct {
	// InvestorRatio is the fraction of revenue paid to token holders. The
	// farmer receives the remainder, including rounding dust.
	InvestorRatio decimal.Decimal
	// Asset is the payout token.
	Asset string
	// ReserveAccount holds revenue until it is paid out.
	ReserveAccount string
	// Precision is the number of decimal places payouts carry.
	Precision int32
	// FundOnCreate mints the harvest revenue into the reserve when a
	// distribution is created.
	FundOnCreate bool
	BatchSize    int
	MaxAttempts  int
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

// DefaultParams returns the 70/30 investor/farmer split with batches of 50
// and three payout attempts per holder.
func DefaultParams() Params {
	return Params{
		InvestorRatio:  decimal.RequireFromString("0.70"),
		Asset:          "USDC",
		ReserveAccount: "distribution-reserve",
		Precision:      6,
		FundOnCreate:   true,
		BatchSize:      50,
		MaxAttempts:    3,
		MinBackoff:     200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if !p.InvestorRatio.IsPositive() || p.InvestorRatio.GreaterThan(decimal.NewFromInt(1)) {
		p.InvestorRatio = def.InvestorRatio
	}
	p.Asset = strings.ToUpper(strings.TrimSpace(p.Asset))
	if p.Asset == "" {
		p.Asset = def.Asset
	}
	if strings.TrimSpace(p.ReserveAccount) == "" {
		p.ReserveAccount = def.ReserveAccount
	}
	if p.Precision <= 0 {
		p.Precision = def.Precision
	}
	if p.BatchSize <= 0 {
		p.BatchSize = def.BatchSize
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = def.MinBackoff
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = p.MinBackoff
	}
	return p
}
