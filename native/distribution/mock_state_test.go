package distribution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/ledger"
)

type mockState struct {
	mu            sync.Mutex
	distributions map[string]*Distribution
	claims        map[string]*Claim
	withdrawals   []*Withdrawal
	failCommit    error
}

func newMockState() *mockState {
	return &mockState{
		distributions: make(map[string]*Distribution),
		claims:        make(map[string]*Claim),
	}
}

func (m *mockState) Distribution(_ context.Context, id string) (*Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.distributions[id].Clone(), nil
}

func (m *mockState) DistributionByHarvest(_ context.Context, harvestID string) (*Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.distributions {
		if d.HarvestID == harvestID {
			return d.Clone(), nil
		}
	}
	return nil, nil
}

func (m *mockState) Distributions(_ context.Context, filter Filter) ([]*Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Distribution, 0)
	for _, d := range m.distributions {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.GroveID != "" && d.GroveID != filter.GroveID {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockState) Claim(_ context.Context, distributionID, holder string) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[distributionID+"/"+holder].Clone(), nil
}

func (m *mockState) Claims(_ context.Context, distributionID string) ([]*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Claim, 0)
	for _, claim := range m.claims {
		if claim.DistributionID == distributionID {
			out = append(out, claim.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Holder < out[j].Holder })
	return out, nil
}

func (m *mockState) HolderClaims(_ context.Context, holder string) ([]*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Claim, 0)
	for _, claim := range m.claims {
		if claim.Holder == holder {
			out = append(out, claim.Clone())
		}
	}
	return out, nil
}

func (m *mockState) Withdrawals(_ context.Context, filter WithdrawalFilter) ([]*Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Withdrawal, 0)
	for _, w := range m.withdrawals {
		if filter.GroveID != "" && w.GroveID != filter.GroveID {
			continue
		}
		if filter.Farmer != "" && w.Farmer != filter.Farmer {
			continue
		}
		clone := *w
		out = append(out, &clone)
	}
	return out, nil
}

func (m *mockState) Commit(ctx context.Context, batch Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return m.failCommit
	}
	if batch.Distribution != nil {
		m.distributions[batch.Distribution.ID] = batch.Distribution.Clone()
	}
	for _, claim := range batch.Claims {
		m.claims[claim.DistributionID+"/"+claim.Holder] = claim.Clone()
	}
	if batch.Withdrawal != nil {
		clone := *batch.Withdrawal
		m.withdrawals = append(m.withdrawals, &clone)
	}
	return nil
}

// flakyLedger fails transfers to selected holders with a transient error.
type flakyLedger struct {
	*ledger.Memory
	mu       sync.Mutex
	failures map[string]int // remaining failures; negative fails forever
	attempts map[string]int
	// paid runs after every successful transfer.
	paid func(to string)
}

func newFlakyLedger() *flakyLedger {
	return &flakyLedger{
		Memory:   ledger.NewMemory(),
		failures: make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (f *flakyLedger) failTransfersTo(holder string, times int) {
	f.mu.Lock()
	f.failures[holder] = times
	f.mu.Unlock()
}

func (f *flakyLedger) attemptsTo(holder string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[holder]
}

func (f *flakyLedger) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	f.mu.Lock()
	f.attempts[to]++
	remaining, ok := f.failures[to]
	if ok && remaining != 0 {
		if remaining > 0 {
			f.failures[to] = remaining - 1
		}
		f.mu.Unlock()
		return fmt.Errorf("rpc unavailable: %w", ledger.ErrTransient)
	}
	hook := f.paid
	f.mu.Unlock()
	if err := f.Memory.Transfer(ctx, asset, from, to, amount); err != nil {
		return err
	}
	if hook != nil {
		hook(to)
	}
	return nil
}

type fixture struct {
	engine *Engine
	state  *mockState
	ledger *flakyLedger

	clockMu sync.Mutex
	clock   time.Time
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{state: newMockState(), ledger: newFlakyLedger(), clock: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	var (
		idMu sync.Mutex
		ids  int
	)
	base := []Option{
		WithClock(func() time.Time {
			f.clockMu.Lock()
			defer f.clockMu.Unlock()
			f.clock = f.clock.Add(time.Second)
			return f.clock
		}),
		WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			ids++
			return fmt.Sprintf("id-%03d", ids)
		}),
		WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	}
	engine, err := NewEngine(f.state, f.ledger, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.engine = engine
	return f
}

func (f *fixture) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), f.engine.Params().Asset, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func holders(n int, balance string) []Holder {
	out := make([]Holder, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Holder{Address: fmt.Sprintf("holder-%03d", i), Balance: dec(balance)})
	}
	return out
}

func (f *fixture) create(t *testing.T, harvest, grove, revenue string, snapshot []Holder, supply string) *Distribution {
	t.Helper()
	d, created, err := f.engine.CreateDistribution(context.Background(), CreateRequest{
		HarvestID:     harvest,
		GroveID:       grove,
		FarmerAddress: "farmer-" + grove,
		TotalRevenue:  dec(revenue),
		Holders:       snapshot,
		TotalSupply:   dec(supply),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected new distribution for %s", harvest)
	}
	return d
}
