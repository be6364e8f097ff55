package lending

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Params groups the risk and precision settings applied by the engine.
type Params struct {
	// CollateralizationRatio is the collateral value required per unit lent.
	CollateralizationRatio decimal.Decimal
	// LiquidationThreshold discounts collateral value when computing health.
	LiquidationThreshold decimal.Decimal
	// RepaymentMultiplier is the flat repayment factor applied to principal.
	RepaymentMultiplier decimal.Decimal
	LoanTerm            time.Duration
	// SharePrecision is the number of decimal places LP shares carry.
	SharePrecision int32
	// AmountPrecision is the number of decimal places asset amounts carry.
	AmountPrecision int32
	// PoolAccountPrefix namespaces the ledger account that holds pool funds.
	PoolAccountPrefix string
	// Markets carries per-asset pool defaults used when a pool is first created.
	Markets map[string]MarketConfig
	// DefaultMarket applies to assets without an explicit entry in Markets.
	DefaultMarket MarketConfig
}

// MarketConfig seeds a pool on first provision.
type MarketConfig struct {
	CollateralAsset string
	BaseAPY         decimal.Decimal
}

// DefaultParams mirrors the platform's published loan terms: 125% collateral,
// 90% liquidation threshold and a 10% flat repayment premium over 180 days.
func DefaultParams() Params {
	return Params{
		CollateralizationRatio: decimal.RequireFromString("1.25"),
		LiquidationThreshold:   decimal.RequireFromString("0.90"),
		RepaymentMultiplier:    decimal.RequireFromString("1.10"),
		LoanTerm:               180 * 24 * time.Hour,
		SharePrecision:         18,
		AmountPrecision:        8,
		PoolAccountPrefix:      "lending-pool:",
		DefaultMarket: MarketConfig{
			CollateralAsset: "COFFEE",
			BaseAPY:         decimal.RequireFromString("0.085"),
		},
	}
}

func (p Params) market(asset string) MarketConfig {
	if cfg, ok := p.Markets[normaliseAsset(asset)]; ok {
		if strings.TrimSpace(cfg.CollateralAsset) == "" {
			cfg.CollateralAsset = p.DefaultMarket.CollateralAsset
		}
		return cfg
	}
	return p.DefaultMarket
}

// PoolAccount returns the ledger account holding the free funds of asset's pool.
func (p Params) PoolAccount(asset string) string {
	return p.PoolAccountPrefix + normaliseAsset(asset)
}

func normaliseAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if !p.CollateralizationRatio.IsPositive() {
		p.CollateralizationRatio = def.CollateralizationRatio
	}
	if !p.LiquidationThreshold.IsPositive() {
		p.LiquidationThreshold = def.LiquidationThreshold
	}
	if !p.RepaymentMultiplier.IsPositive() {
		p.RepaymentMultiplier = def.RepaymentMultiplier
	}
	if p.LoanTerm <= 0 {
		p.LoanTerm = def.LoanTerm
	}
	if p.SharePrecision <= 0 {
		p.SharePrecision = def.SharePrecision
	}
	if p.AmountPrecision <= 0 {
		p.AmountPrecision = def.AmountPrecision
	}
	if strings.TrimSpace(p.PoolAccountPrefix) == "" {
		p.PoolAccountPrefix = def.PoolAccountPrefix
	}
	if strings.TrimSpace(p.DefaultMarket.CollateralAsset) == "" {
		p.DefaultMarket.CollateralAsset = def.DefaultMarket.CollateralAsset
	}
	if len(p.Markets) > 0 {
		markets := make(map[string]MarketConfig, len(p.Markets))
		for asset, cfg := range p.Markets {
			cfg.CollateralAsset = normaliseAsset(cfg.CollateralAsset)
			markets[normaliseAsset(asset)] = cfg
		}
		p.Markets = markets
	}
	p.DefaultMarket.CollateralAsset = normaliseAsset(p.DefaultMarket.CollateralAsset)
	return p
}
