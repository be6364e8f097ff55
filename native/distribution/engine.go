// Package distribution splits harvest revenue between grove farmers and token
// holders and pays holders out in resumable batches.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/i-mwangi/chai-project-sub002/native/common"
	"github.com/i-mwangi/chai-project-sub002/native/ledger"
)

var (
	ErrInvalidAmount        = errors.New("distribution: amount must be positive")
	ErrInvalidRequest       = errors.New("distribution: invalid request")
	ErrInvalidSnapshot      = errors.New("distribution: invalid holder snapshot")
	ErrDistributionNotFound = errors.New("distribution: not found")
	ErrHolderNotFound       = errors.New("distribution: holder not in snapshot")
	ErrAlreadyClaimed       = errors.New("distribution: already claimed")
	ErrInsufficientBalance  = errors.New("distribution: insufficient balance")
	ErrNotGroveFarmer       = errors.New("distribution: address is not the grove farmer")
	errNilState             = errors.New("distribution: state not configured")
	errNilLedger            = errors.New("distribution: ledger not configured")
)

const moduleName = "distribution"

// EventType names a distribution lifecycle notification.
type EventType string

const (
	EventCreated      EventType = "distribution.created"
	EventCompleted    EventType = "distribution.completed"
	EventHolderFailed EventType = "distribution.holder_failed"
	EventClaimed      EventType = "distribution.claimed"
)

// Event describes a lifecycle change delivered to the Notifier.
type Event struct {
	Type           EventType
	DistributionID string
	HarvestID      string
	GroveID        string
	Holder         string
	Amount         decimal.Decimal
	Reason         string
	OccurredAt     time.Time
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Observer records payout metrics.
type Observer interface {
	ObservePayout(outcome Outcome, attempts int)
	ObserveBatch(duration time.Duration, processed int)
}

// Engine creates distributions and settles holder payouts through the ledger.
type Engine struct {
	state    State
	ledger   ledger.Ledger
	params   Params
	pauses   common.PauseView
	locks    common.KeyedMutex
	logger   *slog.Logger
	notifier Notifier
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
	sleep    func(context.Context, time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithParams overrides DefaultParams.
func WithParams(params Params) Option {
	return func(e *Engine) { e.params = params.withDefaults() }
}

func WithPauses(p common.PauseView) Option {
	return func(e *Engine) { e.pauses = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNotifier registers the lifecycle event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithObserver registers the metrics sink.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithSleeper overrides the backoff wait between payout attempts.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// NewEngine constructs a distribution engine.
func NewEngine(state State, led ledger.Ledger, opts ...Option) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if led == nil {
		return nil, errNilLedger
	}
	e := &Engine{
		state:  state,
		ledger: led,
		params: DefaultParams(),
		logger: slog.Default(),
		tracer: otel.Tracer("harvest/distribution"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = e.logger.With(slog.String("component", moduleName))
	return e, nil
}

// Params returns the effective engine parameters.
func (e *Engine) Params() Params {
	return e.params
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) notify(ctx context.Context, event Event) {
	if e.notifier == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	e.notifier.Notify(ctx, event)
}

func (e *Engine) compensate(ctx context.Context, op string, fn func(context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("distribution compensation failed",
			slog.String("op", op),
			slog.Any("error", err))
	}
}

func claimKey(distributionID, holder string) string {
	return "claim/" + distributionID + "/" + holder
}

// ComputeShare returns floor(InvestorShare × balance / TotalSupply) at the
// given precision.
func ComputeShare(d *Distribution, balance decimal.Decimal, precision int32) decimal.Decimal {
	if d == nil || !balance.IsPositive() {
		return decimal.Zero
	}
	return common.MulDivFloor(d.InvestorShare, balance, d.TotalSupply, precision)
}

// SplitRevenue returns the investor and farmer portions of total.
func (e *Engine) SplitRevenue(total decimal.Decimal) (investor, farmer decimal.Decimal) {
	investor = common.FloorTo(total.Mul(e.params.InvestorRatio), e.params.Precision)
	return investor, total.Sub(investor)
}

func normaliseSnapshot(holders []Holder, totalSupply decimal.Decimal) ([]Holder, error) {
	if len(holders) == 0 {
		return nil, fmt.Errorf("%w: no holders", ErrInvalidSnapshot)
	}
	if !totalSupply.IsPositive() {
		return nil, fmt.Errorf("%w: total supply must be positive", ErrInvalidSnapshot)
	}
	seen := make(map[string]struct{}, len(holders))
	out := make([]Holder, 0, len(holders))
	sum := decimal.Zero
	for i, holder := range holders {
		addr := common.NormalizeAddress(holder.Address)
		if addr == "" {
			return nil, fmt.Errorf("%w: holder %d has no address", ErrInvalidSnapshot, i)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("%w: duplicate holder %s", ErrInvalidSnapshot, addr)
		}
		if !holder.Balance.IsPositive() {
			return nil, fmt.Errorf("%w: holder %s balance must be positive", ErrInvalidSnapshot, addr)
		}
		seen[addr] = struct{}{}
		sum = sum.Add(holder.Balance)
		out = append(out, Holder{Address: addr, Balance: holder.Balance})
	}
	if sum.GreaterThan(totalSupply) {
		return nil, fmt.Errorf("%w: balances %s exceed total supply %s", ErrInvalidSnapshot, sum, totalSupply)
	}
	return out, nil
}

// CreateDistribution records a harvest's revenue split and freezes the holder
// snapshot. Requests are idempotent by HarvestID: a repeated harvest returns
// the existing distribution with created set to false.
func (e *Engine) CreateDistribution(ctx context.Context, req CreateRequest) (*Distribution, bool, error) {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, false, err
	}
	harvestID := strings.TrimSpace(req.HarvestID)
	groveID := strings.TrimSpace(req.GroveID)
	farmer := common.NormalizeAddress(req.FarmerAddress)
	if harvestID == "" || groveID == "" || farmer == "" {
		return nil, false, fmt.Errorf("%w: harvest, grove and farmer are required", ErrInvalidRequest)
	}

	unlock := e.locks.Lock("harvest/" + harvestID)
	defer unlock()

	// A replayed harvest returns the original record even when the resent body differs.
	existing, err := e.state.DistributionByHarvest(ctx, harvestID)
	if err != nil {
		return nil, false, fmt.Errorf("distribution: lookup harvest: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	if !req.TotalRevenue.IsPositive() {
		return nil, false, ErrInvalidAmount
	}
	holders, err := normaliseSnapshot(req.Holders, req.TotalSupply)
	if err != nil {
		return nil, false, err
	}

	investor, farmerShare := e.SplitRevenue(req.TotalRevenue)
	if !investor.Add(farmerShare).Equal(req.TotalRevenue) {
		return nil, false, fmt.Errorf("distribution: revenue split %s + %s does not sum to %s", investor, farmerShare, req.TotalRevenue)
	}
	now := e.now()
	d := &Distribution{
		ID:            e.newID(),
		HarvestID:     harvestID,
		GroveID:       groveID,
		Asset:         e.params.Asset,
		FarmerAddress: farmer,
		TotalRevenue:  req.TotalRevenue,
		FarmerShare:   farmerShare,
		InvestorShare: investor,
		Holders:       holders,
		TotalSupply:   req.TotalSupply,
		Status:        StatusPending,
		CreatedAt:     now,
	}
	claims := make([]*Claim, 0, len(holders))
	for _, holder := range holders {
		claims = append(claims, &Claim{
			DistributionID: d.ID,
			Holder:         holder.Address,
			Share:          ComputeShare(d, holder.Balance, e.params.Precision),
			UpdatedAt:      now,
		})
	}

	if e.params.FundOnCreate {
		if err := e.ledger.Mint(ctx, d.Asset, e.params.ReserveAccount, d.TotalRevenue); err != nil {
			return nil, false, fmt.Errorf("distribution: fund reserve: %w", err)
		}
	}
	if err := e.state.Commit(ctx, Batch{Distribution: d, Claims: claims}); err != nil {
		if e.params.FundOnCreate {
			e.compensate(ctx, "create/burn", func(ctx context.Context) error {
				return e.ledger.Burn(ctx, d.Asset, e.params.ReserveAccount, d.TotalRevenue)
			})
		}
		return nil, false, fmt.Errorf("distribution: commit: %w", err)
	}

	e.logger.Info("distribution created",
		slog.String("distribution_id", d.ID),
		slog.String("harvest_id", harvestID),
		slog.String("grove_id", groveID),
		slog.String("revenue", d.TotalRevenue.String()),
		slog.Int("holders", len(holders)))
	e.notify(ctx, Event{Type: EventCreated, DistributionID: d.ID, HarvestID: harvestID, GroveID: groveID, Amount: d.InvestorShare})
	return d.Clone(), true, nil
}

// Distribution returns a distribution by ID.
func (e *Engine) Distribution(ctx context.Context, id string) (*Distribution, error) {
	d, err := e.state.Distribution(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("distribution: load: %w", err)
	}
	if d == nil {
		return nil, ErrDistributionNotFound
	}
	return d, nil
}

// Claim pays the holder's share on demand. The per-holder lock makes the
// claimed check and the transfer one step, so a share is paid at most once.
func (e *Engine) Claim(ctx context.Context, distributionID, holder string) (decimal.Decimal, error) {
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return decimal.Zero, err
	}
	holder = common.NormalizeAddress(holder)
	d, err := e.Distribution(ctx, distributionID)
	if err != nil {
		return decimal.Zero, err
	}

	unlock := e.locks.Lock(claimKey(d.ID, holder))
	defer unlock()

	claim, err := e.state.Claim(ctx, d.ID, holder)
	if err != nil {
		return decimal.Zero, fmt.Errorf("distribution: load claim: %w", err)
	}
	if claim == nil {
		return decimal.Zero, ErrHolderNotFound
	}
	claim = claim.Clone()
	if claim.Claimed {
		return decimal.Zero, ErrAlreadyClaimed
	}
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	settleCtx := context.WithoutCancel(ctx)
	if claim.Share.IsPositive() {
		if err := e.ledger.Transfer(settleCtx, d.Asset, e.params.ReserveAccount, holder, claim.Share); err != nil {
			return decimal.Zero, fmt.Errorf("distribution: pay claim: %w", err)
		}
	}
	now := e.now()
	claim.Claimed = true
	claim.ClaimedAt = &now
	claim.Failed = false
	claim.Attempts++
	claim.LastError = ""
	claim.UpdatedAt = now
	if err := e.state.Commit(settleCtx, Batch{Claims: []*Claim{claim}}); err != nil {
		if claim.Share.IsPositive() {
			e.compensate(ctx, "claim/refund", func(ctx context.Context) error {
				return e.ledger.Transfer(ctx, d.Asset, holder, e.params.ReserveAccount, claim.Share)
			})
		}
		return decimal.Zero, fmt.Errorf("distribution: commit claim: %w", err)
	}
	e.logger.Info("distribution claimed",
		slog.String("distribution_id", d.ID),
		slog.String("holder", holder),
		slog.String("amount", claim.Share.String()))
	e.notify(ctx, Event{Type: EventClaimed, DistributionID: d.ID, HarvestID: d.HarvestID, GroveID: d.GroveID, Holder: holder, Amount: claim.Share})
	return claim.Share, nil
}

// Pending lists distributions that still have holders to process, oldest
// first.
func (e *Engine) Pending(ctx context.Context) ([]*Distribution, error) {
	list, err := e.state.Distributions(ctx, Filter{Status: StatusPending})
	if err != nil {
		return nil, fmt.Errorf("distribution: list pending: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}
