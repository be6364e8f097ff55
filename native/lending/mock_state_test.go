package lending

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i-mwangi/chai-project-sub002/native/ledger"
	"github.com/i-mwangi/chai-project-sub002/native/pricing"
)

type mockState struct {
	mu         sync.Mutex
	pools      map[string]*Pool
	positions  map[string]*Position
	loans      map[string]*Loan
	failCommit error
	commits    int
}

func newMockState() *mockState {
	return &mockState{
		pools:     make(map[string]*Pool),
		positions: make(map[string]*Position),
		loans:     make(map[string]*Loan),
	}
}

func (m *mockState) Pool(_ context.Context, asset string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools[asset].Clone(), nil
}

func (m *mockState) Pools(context.Context) ([]*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		out = append(out, pool.Clone())
	}
	return out, nil
}

func (m *mockState) Position(_ context.Context, asset, provider string) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[asset+"/"+provider].Clone(), nil
}

func (m *mockState) Positions(_ context.Context, asset string) ([]*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Position, 0)
	for _, position := range m.positions {
		if position.Asset == asset {
			out = append(out, position.Clone())
		}
	}
	return out, nil
}

func (m *mockState) ActiveLoan(_ context.Context, asset, borrower string) (*Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, loan := range m.loans {
		if loan.Asset == asset && loan.Borrower == borrower && loan.Active() {
			return loan.Clone(), nil
		}
	}
	return nil, nil
}

func (m *mockState) Loans(_ context.Context, asset string, status LoanStatus) ([]*Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Loan, 0)
	for _, loan := range m.loans {
		if loan.Asset == asset && (status == "" || loan.Status == status) {
			out = append(out, loan.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
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
	m.commits++
	if batch.Pool != nil {
		m.pools[batch.Pool.Asset] = batch.Pool.Clone()
	}
	if batch.Position != nil {
		key := batch.Position.Asset + "/" + batch.Position.Provider
		if batch.DeletePosition {
			delete(m.positions, key)
		} else {
			m.positions[key] = batch.Position.Clone()
		}
	}
	if batch.Loan != nil {
		m.loans[batch.Loan.ID] = batch.Loan.Clone()
	}
	return nil
}

type fixture struct {
	engine *Engine
	state  *mockState
	ledger *ledger.Memory
	prices *pricing.Feed
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	state := newMockState()
	led := ledger.NewMemory()
	feed := pricing.NewFeed(0)
	if err := feed.SetDecimal("COFFEE", "100", time.Time{}); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	ids := 0
	base := []Option{
		WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			ids++
			return "loan-" + string(rune('a'+ids-1))
		}),
	}
	engine, err := NewEngine(state, led, feed, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{engine: engine, state: state, ledger: led, prices: feed}
}

func (f *fixture) fund(t *testing.T, asset, account, amount string) {
	t.Helper()
	if err := f.ledger.Mint(context.Background(), asset, account, dec(amount)); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func (f *fixture) balance(t *testing.T, asset, account string) decimal.Decimal {
	t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), asset, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) pool(t *testing.T, asset string) *Pool {
	t.Helper()
	pool, err := f.engine.Pool(context.Background(), asset)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func assertPoolInvariant(t *testing.T, pool *Pool) {
	t.Helper()
	if pool.TotalBorrowed.GreaterThan(pool.TotalLiquidity) {
		t.Fatalf("borrowed %s exceeds liquidity %s", pool.TotalBorrowed, pool.TotalLiquidity)
	}
}

var errCommit = errors.New("disk full")
