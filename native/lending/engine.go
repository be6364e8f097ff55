package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/i-mwangi/chai-project-sub002/native/common"
	"github.com/i-mwangi/chai-project-sub002/native/ledger"
	"github.com/i-mwangi/chai-project-sub002/native/pricing"
)

var (
	ErrInvalidAmount          = errors.New("lending: amount must be positive")
	ErrInvalidAddress         = errors.New("lending: address required")
	ErrInvalidPrice           = errors.New("lending: collateral price must be positive")
	ErrInsufficientLiquidity  = errors.New("lending: insufficient liquidity")
	ErrInsufficientBalance    = errors.New("lending: insufficient balance")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrDuplicateLoan          = errors.New("lending: borrower already has an active loan")
	ErrLoanNotFound           = errors.New("lending: active loan not found")
	ErrEmptyPool              = errors.New("lending: pool has no liquidity shares")
	ErrPoolNotFound           = errors.New("lending: pool not found")
	ErrNotLiquidatable        = errors.New("lending: loan health factor not below 1")
	errNilState               = errors.New("lending: state not configured")
	errNilLedger              = errors.New("lending: ledger not configured")
	errNilSeizer              = errors.New("lending: collateral seizer required")
)

const moduleName = "lending"

// Engine owns pool accounting and the loan book. All mutations of one pool are
// serialised by a per-asset lock; ledger transfers happen before the state
// commit and are reversed when the commit fails.
type Engine struct {
	state    State
	ledger   ledger.Ledger
	prices   pricing.Source
	params   Params
	interest *InterestModel
	pauses   common.PauseView
	locks    common.KeyedMutex
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithParams overrides DefaultParams.
func WithParams(params Params) Option {
	return func(e *Engine) { e.params = params.withDefaults() }
}

// WithInterestModel configures the utilisation-driven APY curve.
func WithInterestModel(model *InterestModel) Option {
	return func(e *Engine) { e.interest = model.Clone() }
}

// WithPauses wires the operator pause switches.
func WithPauses(p common.PauseView) Option {
	return func(e *Engine) { e.pauses = p }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides loan ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine constructs a lending engine over the supplied state, ledger and
// price source.
func NewEngine(state State, led ledger.Ledger, prices pricing.Source, opts ...Option) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if led == nil {
		return nil, errNilLedger
	}
	e := &Engine{
		state:  state,
		ledger: led,
		prices: prices,
		params: DefaultParams(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
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

func (e *Engine) lockPool(asset string) func() {
	return e.locks.Lock("pool/" + asset)
}

func (e *Engine) guard() error {
	return common.Guard(e.pauses, moduleName)
}

func cleanAddress(addr string) (string, error) {
	trimmed := common.NormalizeAddress(addr)
	if trimmed == "" {
		return "", ErrInvalidAddress
	}
	return trimmed, nil
}

func cleanAsset(asset string) (string, error) {
	normalised := normaliseAsset(asset)
	if normalised == "" {
		return "", fmt.Errorf("%w: asset", ErrInvalidAddress)
	}
	return normalised, nil
}

// translateLedger maps ledger failures onto lending errors while keeping the
// original cause in the chain.
func translateLedger(err error, insufficient error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %w", insufficient, err)
	}
	return fmt.Errorf("lending: ledger: %w", err)
}

// compensate runs a reversing ledger call after a failed commit. Failures are
// logged; the original error is what the caller sees.
func (e *Engine) compensate(ctx context.Context, op string, fn func(context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("lending compensation failed",
			slog.String("op", op),
			slog.Any("error", err))
	}
}
