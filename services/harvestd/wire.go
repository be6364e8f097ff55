package harvestd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/common"
	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
	"github.com/i-mwangi/chai-project-sub002/native/pricing"
)

const requestLimit = 1 << 20 // 1 MiB

// decodeRequest reads a JSON body into dst, rejecting unknown fields. An
// empty body is allowed when optional is set.
func decodeRequest(r *http.Request, dst any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return badRequest("missing request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return badRequest("decode request: %v", err)
	}
	return nil
}

func requireField(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", badRequest("%s is required", name)
	}
	return trimmed, nil
}

func positiveField(name, value string) (decimal.Decimal, error) {
	amount, err := common.ParsePositive(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return amount, nil
}

type provideRequest struct {
	Provider string `json:"provider"`
	Amount   string `json:"amount"`
}

func (r provideRequest) validate() (string, decimal.Decimal, error) {
	provider, err := requireField("provider", r.Provider)
	if err != nil {
		return "", decimal.Zero, err
	}
	amount, err := positiveField("amount", r.Amount)
	return provider, amount, err
}

type withdrawRequest struct {
	Provider string `json:"provider"`
	LPShares string `json:"lpShares"`
}

func (r withdrawRequest) validate() (string, decimal.Decimal, error) {
	provider, err := requireField("provider", r.Provider)
	if err != nil {
		return "", decimal.Zero, err
	}
	shares, err := positiveField("lpShares", r.LPShares)
	return provider, shares, err
}

type termsRequest struct {
	Amount          string `json:"amount"`
	CollateralPrice string `json:"collateralPrice,omitempty"`
}

type originateRequest struct {
	Borrower        string `json:"borrower"`
	Amount          string `json:"amount"`
	CollateralPrice string `json:"collateralPrice,omitempty"`
}

type holderRequest struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type createDistributionRequest struct {
	HarvestID     string          `json:"harvestId"`
	GroveID       string          `json:"groveId"`
	FarmerAddress string          `json:"farmerAddress"`
	TotalRevenue  string          `json:"totalRevenue"`
	TotalSupply   string          `json:"totalSupply"`
	Holders       []holderRequest `json:"holders"`
}

func (r createDistributionRequest) validate() (distribution.CreateRequest, error) {
	out := distribution.CreateRequest{}
	var err error
	if out.HarvestID, err = requireField("harvestId", r.HarvestID); err != nil {
		return out, err
	}
	if out.GroveID, err = requireField("groveId", r.GroveID); err != nil {
		return out, err
	}
	if out.FarmerAddress, err = requireField("farmerAddress", r.FarmerAddress); err != nil {
		return out, err
	}
	if out.TotalRevenue, err = positiveField("totalRevenue", r.TotalRevenue); err != nil {
		return out, err
	}
	if out.TotalSupply, err = positiveField("totalSupply", r.TotalSupply); err != nil {
		return out, err
	}
	if len(r.Holders) == 0 {
		return out, badRequest("holders snapshot is empty")
	}
	out.Holders = make([]distribution.Holder, 0, len(r.Holders))
	for i, h := range r.Holders {
		address, err := requireField(fmt.Sprintf("holders[%d].address", i), h.Address)
		if err != nil {
			return out, err
		}
		balance, err := common.ParseAmount(h.Balance)
		if err != nil {
			return out, fmt.Errorf("holders[%d].balance: %w", i, err)
		}
		if balance.IsNegative() {
			return out, badRequest("holders[%d].balance must not be negative", i)
		}
		out.Holders = append(out.Holders, distribution.Holder{Address: address, Balance: balance})
	}
	return out, nil
}

type batchRequest struct {
	BatchSize int `json:"batchSize,omitempty"`
	// All keeps processing until the distribution completes.
	All bool `json:"all,omitempty"`
}

type farmerWithdrawRequest struct {
	Farmer string `json:"farmer"`
	Amount string `json:"amount"`
}

type priceRequest struct {
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type poolView struct {
	Asset              string          `json:"asset"`
	CollateralAsset    string          `json:"collateralAsset"`
	TotalLiquidity     decimal.Decimal `json:"totalLiquidity"`
	TotalLPShares      decimal.Decimal `json:"totalLpShares"`
	TotalBorrowed      decimal.Decimal `json:"totalBorrowed"`
	AvailableLiquidity decimal.Decimal `json:"availableLiquidity"`
	BaseAPY            decimal.Decimal `json:"baseApy"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

func newPoolView(p *lending.Pool) poolView {
	return poolView{
		Asset:              p.Asset,
		CollateralAsset:    p.CollateralAsset,
		TotalLiquidity:     p.TotalLiquidity,
		TotalLPShares:      p.TotalLPShares,
		TotalBorrowed:      p.TotalBorrowed,
		AvailableLiquidity: p.Available(),
		BaseAPY:            p.BaseAPY,
		UpdatedAt:          p.UpdatedAt,
	}
}

type poolStatsView struct {
	poolView
	UtilisationRate decimal.Decimal `json:"utilisationRate"`
	CurrentAPY      decimal.Decimal `json:"currentApy"`
	Providers       int             `json:"providers"`
	ActiveLoans     int             `json:"activeLoans"`
	AverageLoanSize decimal.Decimal `json:"averageLoanSize"`
}

func newPoolStatsView(s lending.PoolStats) poolStatsView {
	return poolStatsView{
		poolView:        newPoolView(s.Pool),
		UtilisationRate: s.UtilisationRate,
		CurrentAPY:      s.CurrentAPY,
		Providers:       s.Providers,
		ActiveLoans:     s.ActiveLoans,
		AverageLoanSize: s.AverageLoanSize,
	}
}

type positionView struct {
	Asset        string          `json:"asset"`
	Provider     string          `json:"provider"`
	LPShares     decimal.Decimal `json:"lpShares"`
	Deposited    decimal.Decimal `json:"deposited"`
	SharePercent decimal.Decimal `json:"sharePercent"`
	Value        decimal.Decimal `json:"value"`
}

func newPositionView(p lending.PositionView) positionView {
	return positionView{
		Asset:        p.Asset,
		Provider:     p.Provider,
		LPShares:     p.LPShares,
		Deposited:    p.Deposited,
		SharePercent: p.SharePercent,
		Value:        p.Value,
	}
}

type termsView struct {
	LoanAmount       decimal.Decimal `json:"loanAmount"`
	CollateralAmount decimal.Decimal `json:"collateralRequired"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	RepaymentAmount  decimal.Decimal `json:"repaymentAmount"`
	InterestRate     decimal.Decimal `json:"interestRate"`
	MaxLoanDuration  string          `json:"maxLoanDuration"`
	CollateralPrice  decimal.Decimal `json:"collateralPrice"`
}

func newTermsView(t lending.Terms, price decimal.Decimal) termsView {
	return termsView{
		LoanAmount:       t.LoanAmount,
		CollateralAmount: t.CollateralAmount,
		LiquidationPrice: t.LiquidationPrice,
		RepaymentAmount:  t.RepaymentAmount,
		InterestRate:     t.InterestRate,
		MaxLoanDuration:  t.MaxLoanDuration.String(),
		CollateralPrice:  price,
	}
}

type loanView struct {
	ID               string          `json:"id"`
	Asset            string          `json:"asset"`
	Borrower         string          `json:"borrower"`
	LoanAmount       decimal.Decimal `json:"loanAmount"`
	CollateralAsset  string          `json:"collateralAsset"`
	CollateralAmount decimal.Decimal `json:"collateralAmount"`
	RepaymentAmount  decimal.Decimal `json:"repaymentAmount"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	Status           string          `json:"status"`
	OriginatedAt     time.Time       `json:"originatedAt"`
	DueAt            time.Time       `json:"dueAt"`
	ClosedAt         *time.Time      `json:"closedAt,omitempty"`
}

func newLoanView(l *lending.Loan) loanView {
	return loanView{
		ID:               l.ID,
		Asset:            l.Asset,
		Borrower:         l.Borrower,
		LoanAmount:       l.LoanAmount,
		CollateralAsset:  l.CollateralAsset,
		CollateralAmount: l.CollateralAmount,
		RepaymentAmount:  l.RepaymentAmount,
		LiquidationPrice: l.LiquidationPrice,
		Status:           string(l.Status),
		OriginatedAt:     l.OriginatedAt,
		DueAt:            l.DueAt,
		ClosedAt:         l.ClosedAt,
	}
}

type healthView struct {
	Loan         loanView        `json:"loan"`
	Price        decimal.Decimal `json:"collateralPrice"`
	PriceStale   bool            `json:"priceStale"`
	HealthFactor decimal.Decimal `json:"healthFactor"`
	Band         string          `json:"band"`
}

func newHealthView(h lending.LoanHealth) healthView {
	return healthView{
		Loan:         newLoanView(h.Loan),
		Price:        h.Price,
		PriceStale:   h.PriceStale,
		HealthFactor: h.HealthFactor,
		Band:         string(h.Band),
	}
}

type distributionView struct {
	ID            string          `json:"id"`
	HarvestID     string          `json:"harvestId"`
	GroveID       string          `json:"groveId"`
	Asset         string          `json:"asset"`
	FarmerAddress string          `json:"farmerAddress"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
	FarmerShare   decimal.Decimal `json:"farmerShare"`
	InvestorShare decimal.Decimal `json:"investorShare"`
	TotalSupply   decimal.Decimal `json:"totalSupply"`
	Holders       int             `json:"holders"`
	Status        string          `json:"status"`
	Processed     int             `json:"processed"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

func newDistributionView(d *distribution.Distribution) distributionView {
	return distributionView{
		ID:            d.ID,
		HarvestID:     d.HarvestID,
		GroveID:       d.GroveID,
		Asset:         d.Asset,
		FarmerAddress: d.FarmerAddress,
		TotalRevenue:  d.TotalRevenue,
		FarmerShare:   d.FarmerShare,
		InvestorShare: d.InvestorShare,
		TotalSupply:   d.TotalSupply,
		Holders:       len(d.Holders),
		Status:        string(d.Status),
		Processed:     d.Cursor,
		CreatedAt:     d.CreatedAt,
		CompletedAt:   d.CompletedAt,
	}
}

type holderSummaryView struct {
	Address      string          `json:"address"`
	Balance      decimal.Decimal `json:"balance"`
	Share        decimal.Decimal `json:"share"`
	SharePercent decimal.Decimal `json:"sharePercent"`
	Claimed      bool            `json:"claimed"`
	Failed       bool            `json:"failed"`
	Attempts     int             `json:"attempts"`
}

type summaryView struct {
	Distribution distributionView    `json:"distribution"`
	Holders      []holderSummaryView `json:"holders"`
	TotalClaimed decimal.Decimal     `json:"totalClaimed"`
	TotalPending decimal.Decimal     `json:"totalPending"`
	ClaimedCount int                 `json:"claimedCount"`
	FailedCount  int                 `json:"failedCount"`
}

func newSummaryView(s distribution.Summary) summaryView {
	holders := make([]holderSummaryView, len(s.Holders))
	for i, h := range s.Holders {
		holders[i] = holderSummaryView{
			Address:      h.Address,
			Balance:      h.Balance,
			Share:        h.Share,
			SharePercent: h.SharePercent,
			Claimed:      h.Claimed,
			Failed:       h.Failed,
			Attempts:     h.Attempts,
		}
	}
	return summaryView{
		Distribution: newDistributionView(s.Distribution),
		Holders:      holders,
		TotalClaimed: s.TotalClaimed,
		TotalPending: s.TotalPending,
		ClaimedCount: s.ClaimedCount,
		FailedCount:  s.FailedCount,
	}
}

type batchView struct {
	DistributionID string   `json:"distributionId"`
	Processed      int      `json:"processed"`
	Succeeded      int      `json:"succeeded"`
	Failed         int      `json:"failed"`
	Skipped        int      `json:"skipped"`
	FailedHolders  []string `json:"failedHolders"`
	Remaining      int      `json:"remaining"`
	Completed      bool     `json:"completed"`
	Batches        int      `json:"batches,omitempty"`
	// Interrupted marks a partial result; the caller resumes by repeating the request.
	Interrupted    bool     `json:"interrupted"`
	Error          string   `json:"error,omitempty"`
}

func newBatchView(r distribution.BatchResult, batches int, err error) batchView {
	failed := r.FailedHolders
	if failed == nil {
		failed = []string{}
	}
	view := batchView{
		DistributionID: r.DistributionID,
		Processed:      r.Processed,
		Succeeded:      r.Succeeded,
		Failed:         r.Failed,
		Skipped:        r.Skipped,
		FailedHolders:  failed,
		Remaining:      r.Remaining,
		Completed:      r.Completed,
		Batches:        batches,
	}
	if err != nil {
		view.Interrupted = true
		view.Error = err.Error()
	}
	return view
}

type historyView struct {
	DistributionID string          `json:"distributionId"`
	HarvestID      string          `json:"harvestId"`
	GroveID        string          `json:"groveId"`
	Asset          string          `json:"asset"`
	Share          decimal.Decimal `json:"share"`
	Claimed        bool            `json:"claimed"`
	ClaimedAt      *time.Time      `json:"claimedAt,omitempty"`
	Failed         bool            `json:"failed"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type earningsView struct {
	Holder        string                     `json:"holder"`
	TotalEarned   decimal.Decimal            `json:"totalEarned"`
	TotalPending  decimal.Decimal            `json:"totalPending"`
	Distributions int                        `json:"distributions"`
	AverageShare  decimal.Decimal            `json:"averageShare"`
	ByGrove       map[string]decimal.Decimal `json:"byGrove"`
}

type farmerBalanceView struct {
	GroveID        string          `json:"groveId"`
	Farmer         string          `json:"farmer"`
	TotalEarned    decimal.Decimal `json:"totalEarned"`
	TotalWithdrawn decimal.Decimal `json:"totalWithdrawn"`
	Available      decimal.Decimal `json:"available"`
}

type withdrawalView struct {
	ID          string          `json:"id"`
	GroveID     string          `json:"groveId"`
	Farmer      string          `json:"farmer"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	WithdrawnAt time.Time       `json:"withdrawnAt"`
}

func newWithdrawalView(w *distribution.Withdrawal) withdrawalView {
	return withdrawalView{
		ID:          w.ID,
		GroveID:     w.GroveID,
		Farmer:      w.Farmer,
		Asset:       w.Asset,
		Amount:      w.Amount,
		WithdrawnAt: w.WithdrawnAt,
	}
}

type quoteView struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Stale     bool            `json:"stale"`
}

func newQuoteView(q pricing.Quote) quoteView {
	return quoteView{Asset: q.Asset, Price: q.Price, Timestamp: q.Timestamp, Source: q.Source, Stale: q.Stale}
}
