// Package pricing supplies collateral prices to the loan book.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPrice indicates a zero or negative price.
	ErrInvalidPrice = errors.New("pricing: price must be positive")
	// ErrUnknownAsset indicates no price has been published for the asset.
	ErrUnknownAsset = errors.New("pricing: no price for asset")
)

// Quote captures a collateral price with the time it was observed. Stale is
// informational; consumers decide whether to act on an old price.
type Quote struct {
	Asset     string
	Price     decimal.Decimal
	Timestamp time.Time
	Source    string
	Stale     bool
}

// Source resolves the current price of a collateral asset.
type Source interface {
	CurrentPrice(ctx context.Context, asset string) (Quote, error)
}

// SourceFunc adapts a function into a Source.
type SourceFunc func(ctx context.Context, asset string) (Quote, error)

// CurrentPrice implements Source.
func (f SourceFunc) CurrentPrice(ctx context.Context, asset string) (Quote, error) {
	if f == nil {
		return Quote{}, ErrUnknownAsset
	}
	return f(ctx, asset)
}

// Feed is a manually published price feed. Prices older than MaxAge are
// returned flagged as stale.
type Feed struct {
	mu     sync.RWMutex
	prices map[string]Quote
	maxAge time.Duration
	now    func() time.Time
}

// NewFeed constructs an empty feed. A zero maxAge disables staleness tracking.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{
		prices: make(map[string]Quote),
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for staleness checks.
func (f *Feed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func normaliseAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// SetPrice publishes a price for asset observed at ts. A zero ts uses the
// feed clock.
func (f *Feed) SetPrice(asset string, price decimal.Decimal, ts time.Time) error {
	key := normaliseAsset(asset)
	if key == "" {
		return fmt.Errorf("pricing: asset required")
	}
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts.IsZero() {
		ts = f.now()
	}
	f.prices[key] = Quote{Asset: key, Price: price, Timestamp: ts.UTC(), Source: "manual"}
	return nil
}

// SetDecimal parses price and publishes it.
func (f *Feed) SetDecimal(asset, price string, ts time.Time) error {
	parsed, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return fmt.Errorf("pricing: parse price: %w", err)
	}
	return f.SetPrice(asset, parsed, ts)
}

// CurrentPrice implements Source.
func (f *Feed) CurrentPrice(ctx context.Context, asset string) (Quote, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Quote{}, err
		}
	}
	key := normaliseAsset(asset)
	f.mu.RLock()
	quote, ok := f.prices[key]
	now := f.now()
	f.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownAsset, key)
	}
	if !quote.Price.IsPositive() {
		return Quote{}, ErrInvalidPrice
	}
	if f.maxAge > 0 && now.Sub(quote.Timestamp) > f.maxAge {
		quote.Stale = true
	}
	return quote, nil
}

// Assets lists the assets with a published price.
func (f *Feed) Assets() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.prices))
	for asset := range f.prices {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}
