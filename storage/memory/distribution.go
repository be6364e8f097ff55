package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
)

// DistributionStore implements distribution.State.
type DistributionStore struct {
	mu            sync.RWMutex
	distributions map[string]*distribution.Distribution
	order         []string
	byHarvest     map[string]string
	claims        map[string]*distribution.Claim
	claimOrder    map[string][]string
	holderClaims  map[string][]string
	withdrawals   []*distribution.Withdrawal
}

var _ distribution.State = (*DistributionStore)(nil)

// NewDistributionStore returns an empty store.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{
		distributions: make(map[string]*distribution.Distribution),
		byHarvest:     make(map[string]string),
		claims:        make(map[string]*distribution.Claim),
		claimOrder:    make(map[string][]string),
		holderClaims:  make(map[string][]string),
	}
}

func claimKey(distributionID, holder string) string {
	return distributionID + "/" + holder
}

func (s *DistributionStore) Distribution(_ context.Context, id string) (*distribution.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.distributions[id].Clone(), nil
}

func (s *DistributionStore) DistributionByHarvest(_ context.Context, harvestID string) (*distribution.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHarvest[harvestID]
	if !ok {
		return nil, nil
	}
	return s.distributions[id].Clone(), nil
}

// Distributions returns matching distributions in creation order.
func (s *DistributionStore) Distributions(_ context.Context, filter distribution.Filter) ([]*distribution.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*distribution.Distribution, 0)
	for _, id := range s.order {
		d := s.distributions[id]
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.GroveID != "" && d.GroveID != filter.GroveID {
			continue
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func (s *DistributionStore) Claim(_ context.Context, distributionID, holder string) (*distribution.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims[claimKey(distributionID, holder)].Clone(), nil
}

// Claims returns a distribution's claims in snapshot order.
func (s *DistributionStore) Claims(_ context.Context, distributionID string) ([]*distribution.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.claimOrder[distributionID]
	out := make([]*distribution.Claim, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.claims[key].Clone())
	}
	return out, nil
}

func (s *DistributionStore) HolderClaims(_ context.Context, holder string) ([]*distribution.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.holderClaims[holder]
	out := make([]*distribution.Claim, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.claims[key].Clone())
	}
	return out, nil
}

func (s *DistributionStore) Withdrawals(_ context.Context, filter distribution.WithdrawalFilter) ([]*distribution.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*distribution.Withdrawal, 0)
	for _, w := range s.withdrawals {
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

func (s *DistributionStore) Commit(ctx context.Context, batch distribution.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := batch.Distribution; d != nil {
		if existing, ok := s.byHarvest[d.HarvestID]; ok && existing != d.ID {
			return fmt.Errorf("memory: harvest %s already distributed by %s", d.HarvestID, existing)
		}
		if _, exists := s.distributions[d.ID]; !exists {
			s.order = append(s.order, d.ID)
			s.byHarvest[d.HarvestID] = d.ID
		}
		s.distributions[d.ID] = d.Clone()
	}
	for _, claim := range batch.Claims {
		key := claimKey(claim.DistributionID, claim.Holder)
		if _, exists := s.claims[key]; !exists {
			s.claimOrder[claim.DistributionID] = append(s.claimOrder[claim.DistributionID], key)
			s.holderClaims[claim.Holder] = append(s.holderClaims[claim.Holder], key)
		}
		s.claims[key] = claim.Clone()
	}
	if batch.Withdrawal != nil {
		clone := *batch.Withdrawal
		s.withdrawals = append(s.withdrawals, &clone)
	}
	return nil
}
