// Package exports renders distribution payouts for accounting systems.
package exports

import (
	"time"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
)

// PayoutRow is one holder line of a distribution export.
type PayoutRow struct {
	DistributionID string
	HarvestID      string
	GroveID        string
	Asset          string
	Holder         string
	Balance        string
	Share          string
	SharePercent   string
	Status         string
	Attempts       int
	GeneratedAt    time.Time
}

func payoutStatus(h distribution.HolderSummary) string {
	switch {
	case h.Claimed:
		return "paid"
	case h.Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Rows flattens a distribution summary in snapshot order.
func Rows(summary *distribution.Summary, generated time.Time) []PayoutRow {
	if summary == nil || summary.Distribution == nil {
		return nil
	}
	if generated.IsZero() {
		generated = time.Now()
	}
	d := summary.Distribution
	rows := make([]PayoutRow, 0, len(summary.Holders))
	for _, h := range summary.Holders {
		rows = append(rows, PayoutRow{
			DistributionID: d.ID,
			HarvestID:      d.HarvestID,
			GroveID:        d.GroveID,
			Asset:          d.Asset,
			Holder:         h.Address,
			Balance:        h.Balance.String(),
			Share:          h.Share.String(),
			SharePercent:   h.SharePercent.StringFixed(2),
			Status:         payoutStatus(h),
			Attempts:       h.Attempts,
			GeneratedAt:    generated.UTC(),
		})
	}
	return rows
}
