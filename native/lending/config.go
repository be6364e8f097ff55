package lending

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config captures the runtime configuration for the lending module as read
// from daemon configuration files. Decimal values are kept as strings so that
// operators never round-trip them through floats.
type Config struct {
	CollateralizationRatio string                  `yaml:"collateralization_ratio" toml:"CollateralizationRatio"`
	LiquidationThreshold   string                  `yaml:"liquidation_threshold" toml:"LiquidationThreshold"`
	RepaymentMultiplier    string                  `yaml:"repayment_multiplier" toml:"RepaymentMultiplier"`
	LoanTermDays           int                     `yaml:"loan_term_days" toml:"LoanTermDays"`
	AmountPrecision        int32                   `yaml:"amount_precision" toml:"AmountPrecision"`
	PoolAccountPrefix      string                  `yaml:"pool_account_prefix" toml:"PoolAccountPrefix"`
	CollateralAsset        string                  `yaml:"collateral_asset" toml:"CollateralAsset"`
	BaseAPY                string                  `yaml:"base_apy" toml:"BaseAPY"`
	Markets                map[string]MarketFields `yaml:"markets" toml:"markets"`
	Interest               *InterestFields         `yaml:"interest" toml:"interest"`
}

// MarketFields overrides pool defaults for one asset.
type MarketFields struct {
	CollateralAsset string `yaml:"collateral_asset" toml:"CollateralAsset"`
	BaseAPY         string `yaml:"base_apy" toml:"BaseAPY"`
}

// InterestFields configures the optional utilisation-driven rate model.
type InterestFields struct {
	Slope1 string `yaml:"slope1" toml:"Slope1"`
	Slope2 string `yaml:"slope2" toml:"Slope2"`
	Kink   string `yaml:"kink" toml:"Kink"`
}

func parseOptional(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lending config: %s: %w", field, err)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("lending config: %s must not be negative", field)
	}
	return value, nil
}

// Params converts the configuration into engine parameters. Unset values fall
// back to DefaultParams.
func (c Config) Params() (Params, error) {
	params := DefaultParams()
	var err error
	if params.CollateralizationRatio, err = orDefault("collateralization_ratio", c.CollateralizationRatio, params.CollateralizationRatio); err != nil {
		return Params{}, err
	}
	if params.LiquidationThreshold, err = orDefault("liquidation_threshold", c.LiquidationThreshold, params.LiquidationThreshold); err != nil {
		return Params{}, err
	}
	if params.RepaymentMultiplier, err = orDefault("repayment_multiplier", c.RepaymentMultiplier, params.RepaymentMultiplier); err != nil {
		return Params{}, err
	}
	if params.RepaymentMultiplier.LessThan(decimal.NewFromInt(1)) {
		return Params{}, fmt.Errorf("lending config: repayment_multiplier must be at least 1")
	}
	if params.CollateralizationRatio.LessThan(params.LiquidationThreshold) {
		return Params{}, fmt.Errorf("lending config: collateralization_ratio below liquidation_threshold")
	}
	if c.LoanTermDays < 0 {
		return Params{}, fmt.Errorf("lending config: loan_term_days must not be negative")
	}
	if c.LoanTermDays > 0 {
		params.LoanTerm = time.Duration(c.LoanTermDays) * 24 * time.Hour
	}
	if c.AmountPrecision > 0 {
		params.AmountPrecision = c.AmountPrecision
	}
	if strings.TrimSpace(c.PoolAccountPrefix) != "" {
		params.PoolAccountPrefix = strings.TrimSpace(c.PoolAccountPrefix)
	}
	if strings.TrimSpace(c.CollateralAsset) != "" {
		params.DefaultMarket.CollateralAsset = c.CollateralAsset
	}
	if params.DefaultMarket.BaseAPY, err = orDefault("base_apy", c.BaseAPY, params.DefaultMarket.BaseAPY); err != nil {
		return Params{}, err
	}
	if len(c.Markets) > 0 {
		params.Markets = make(map[string]MarketConfig, len(c.Markets))
		for asset, fields := range c.Markets {
			apy, err := orDefault("markets."+asset+".base_apy", fields.BaseAPY, params.DefaultMarket.BaseAPY)
			if err != nil {
				return Params{}, err
			}
			params.Markets[asset] = MarketConfig{CollateralAsset: fields.CollateralAsset, BaseAPY: apy}
		}
	}
	return params.withDefaults(), nil
}

// InterestModel returns the configured rate model or nil when none is set.
func (c Config) InterestModel() (*InterestModel, error) {
	if c.Interest == nil {
		return nil, nil
	}
	slope1, err := parseOptional("interest.slope1", c.Interest.Slope1)
	if err != nil {
		return nil, err
	}
	slope2, err := parseOptional("interest.slope2", c.Interest.Slope2)
	if err != nil {
		return nil, err
	}
	kink, err := parseOptional("interest.kink", c.Interest.Kink)
	if err != nil {
		return nil, err
	}
	if kink.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("lending config: interest.kink must not exceed 1")
	}
	return &InterestModel{Slope1: slope1, Slope2: slope2, Kink: kink}, nil
}

func orDefault(field, raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	value, err := parseOptional(field, raw)
	if err != nil {
		return decimal.Zero, err
	}
	return value, nil
}
