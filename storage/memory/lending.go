// Package memory provides in-process implementations of the engine state
// interfaces. Each store guards its maps with one mutex so batches commit
// atomically.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/i-mwangi/chai-project-sub002/native/lending"
)

// LendingStore implements lending.State.
type LendingStore struct {
	mu        sync.RWMutex
	pools     map[string]*lending.Pool
	positions map[string]*lending.Position
	loans     map[string]*lending.Loan
	loanOrder []string
}

var _ lending.State = (*LendingStore)(nil)

// NewLendingStore returns an empty store.
func NewLendingStore() *LendingStore {
	return &LendingStore{
		pools:     make(map[string]*lending.Pool),
		positions: make(map[string]*lending.Position),
		loans:     make(map[string]*lending.Loan),
	}
}

func positionKey(asset, provider string) string {
	return asset + "/" + provider
}

func (s *LendingStore) Pool(_ context.Context, asset string) (*lending.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pools[asset].Clone(), nil
}

func (s *LendingStore) Pools(context.Context) ([]*lending.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*lending.Pool, 0, len(s.pools))
	for _, pool := range s.pools {
		out = append(out, pool.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (s *LendingStore) Position(_ context.Context, asset, provider string) (*lending.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[positionKey(asset, provider)].Clone(), nil
}

func (s *LendingStore) Positions(_ context.Context, asset string) ([]*lending.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*lending.Position, 0)
	for _, position := range s.positions {
		if position.Asset == asset {
			out = append(out, position.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *LendingStore) ActiveLoan(_ context.Context, asset, borrower string) (*lending.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.loanOrder {
		loan := s.loans[id]
		if loan.Asset == asset && loan.Borrower == borrower && loan.Active() {
			return loan.Clone(), nil
		}
	}
	return nil, nil
}

// Loans returns loans in origination order.
func (s *LendingStore) Loans(_ context.Context, asset string, status lending.LoanStatus) ([]*lending.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*lending.Loan, 0)
	for _, id := range s.loanOrder {
		loan := s.loans[id]
		if loan.Asset != asset || (status != "" && loan.Status != status) {
			continue
		}
		out = append(out, loan.Clone())
	}
	return out, nil
}

func (s *LendingStore) Commit(ctx context.Context, batch lending.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch.Pool != nil {
		s.pools[batch.Pool.Asset] = batch.Pool.Clone()
	}
	if batch.Position != nil {
		key := positionKey(batch.Position.Asset, batch.Position.Provider)
		if batch.DeletePosition {
			delete(s.positions, key)
		} else {
			s.positions[key] = batch.Position.Clone()
		}
	}
	if batch.Loan != nil {
		if _, exists := s.loans[batch.Loan.ID]; !exists {
			s.loanOrder = append(s.loanOrder, batch.Loan.ID)
		}
		s.loans[batch.Loan.ID] = batch.Loan.Clone()
	}
	return nil
}
