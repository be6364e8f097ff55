package distribution

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/common"
)

// disparityLimit is the largest-to-smallest share ratio above which a
// distribution is flagged.
var disparityLimit = decimal.NewFromInt(100)

// Summary reports per-holder shares and claim progress for a distribution.
func (e *Engine) Summary(ctx context.Context, distributionID string) (Summary, error) {
	d, err := e.Distribution(ctx, distributionID)
	if err != nil {
		return Summary{}, err
	}
	claims, err := e.state.Claims(ctx, d.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("distribution: list claims: %w", err)
	}
	byHolder := make(map[string]*Claim, len(claims))
	for _, claim := range claims {
		byHolder[claim.Holder] = claim
	}
	summary := Summary{
		Distribution: d,
		Holders:      make([]HolderSummary, 0, len(d.Holders)),
		TotalClaimed: decimal.Zero,
		TotalPending: decimal.Zero,
	}
	for _, holder := range d.Holders {
		row := HolderSummary{
			Address:      holder.Address,
			Balance:      holder.Balance,
			Share:        ComputeShare(d, holder.Balance, e.params.Precision),
			SharePercent: common.Percent(holder.Balance, d.TotalSupply),
		}
		if claim := byHolder[holder.Address]; claim != nil {
			row.Share = claim.Share
			row.Claimed = claim.Claimed
			row.Failed = claim.Failed && !claim.Claimed
			row.Attempts = claim.Attempts
		}
		if row.Claimed {
			summary.ClaimedCount++
			summary.TotalClaimed = summary.TotalClaimed.Add(row.Share)
		} else {
			summary.TotalPending = summary.TotalPending.Add(row.Share)
		}
		if row.Failed {
			summary.FailedCount++
		}
		summary.Holders = append(summary.Holders, row)
	}
	return summary, nil
}

// Validate checks a distribution's internal consistency.
func Validate(d *Distribution, precision int32) ValidationReport {
	report := ValidationReport{}
	if d == nil {
		report.Errors = append(report.Errors, "distribution missing")
		return report
	}
	if !d.FarmerShare.Add(d.InvestorShare).Equal(d.TotalRevenue) {
		report.Errors = append(report.Errors, fmt.Sprintf("farmer share %s and investor share %s do not sum to revenue %s", d.FarmerShare, d.InvestorShare, d.TotalRevenue))
	}
	seen := make(map[string]struct{}, len(d.Holders))
	total := decimal.Zero
	var minShare, maxShare decimal.Decimal
	for _, holder := range d.Holders {
		addr := common.NormalizeAddress(holder.Address)
		if _, dup := seen[addr]; dup {
			report.Errors = append(report.Errors, "duplicate holder "+addr)
		}
		seen[addr] = struct{}{}
		share := ComputeShare(d, holder.Balance, precision)
		total = total.Add(share)
		if share.IsZero() {
			report.Warnings = append(report.Warnings, "holder "+addr+" receives a zero share")
			continue
		}
		if minShare.IsZero() || share.LessThan(minShare) {
			minShare = share
		}
		if share.GreaterThan(maxShare) {
			maxShare = share
		}
	}
	if total.GreaterThan(d.InvestorShare) {
		report.Errors = append(report.Errors, fmt.Sprintf("holder shares %s exceed investor share %s", total, d.InvestorShare))
	}
	if minShare.IsPositive() && maxShare.GreaterThan(minShare.Mul(disparityLimit)) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("largest share %s is more than %s times the smallest %s", maxShare, disparityLimit, minShare))
	}
	report.Valid = len(report.Errors) == 0
	return report
}

// ValidateDistribution loads and validates a stored distribution.
func (e *Engine) ValidateDistribution(ctx context.Context, distributionID string) (ValidationReport, error) {
	d, err := e.Distribution(ctx, distributionID)
	if err != nil {
		return ValidationReport{}, err
	}
	return Validate(d, e.params.Precision), nil
}

// HolderHistory lists the distributions a holder participated in, newest
// first.
func (e *Engine) HolderHistory(ctx context.Context, holder string) ([]HistoryEntry, error) {
	holder = common.NormalizeAddress(holder)
	if holder == "" {
		return nil, fmt.Errorf("%w: holder required", ErrInvalidRequest)
	}
	claims, err := e.state.HolderClaims(ctx, holder)
	if err != nil {
		return nil, fmt.Errorf("distribution: list holder claims: %w", err)
	}
	out := make([]HistoryEntry, 0, len(claims))
	for _, claim := range claims {
		d, err := e.state.Distribution(ctx, claim.DistributionID)
		if err != nil {
			return nil, fmt.Errorf("distribution: load %s: %w", claim.DistributionID, err)
		}
		if d == nil {
			continue
		}
		out = append(out, HistoryEntry{
			DistributionID: d.ID,
			HarvestID:      d.HarvestID,
			GroveID:        d.GroveID,
			Asset:          d.Asset,
			Share:          claim.Share,
			Claimed:        claim.Claimed,
			ClaimedAt:      claim.ClaimedAt,
			Failed:         claim.Failed && !claim.Claimed,
			CreatedAt:      d.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// HolderEarnings totals a holder's paid and pending shares with a per-grove
// breakdown of paid amounts.
func (e *Engine) HolderEarnings(ctx context.Context, holder string) (Earnings, error) {
	history, err := e.HolderHistory(ctx, holder)
	if err != nil {
		return Earnings{}, err
	}
	earnings := Earnings{
		Holder:        common.NormalizeAddress(holder),
		TotalEarned:   decimal.Zero,
		TotalPending:  decimal.Zero,
		AverageShare:  decimal.Zero,
		Distributions: len(history),
		ByGrove:       make(map[string]decimal.Decimal),
	}
	for _, entry := range history {
		if entry.Claimed {
			earnings.TotalEarned = earnings.TotalEarned.Add(entry.Share)
			earnings.ByGrove[entry.GroveID] = earnings.ByGrove[entry.GroveID].Add(entry.Share)
		} else {
			earnings.TotalPending = earnings.TotalPending.Add(entry.Share)
		}
	}
	if earnings.Distributions > 0 {
		earnings.AverageShare = earnings.TotalEarned.DivRound(decimal.NewFromInt(int64(earnings.Distributions)), 2)
	}
	return earnings, nil
}
