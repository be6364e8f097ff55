package sqlstore

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
)

// Distributions implements distribution.State on a relational database. The
// holder snapshot is written once, with the distribution's first commit.
type Distributions struct {
	db *gorm.DB
}

var _ distribution.State = (*Distributions)(nil)

// NewDistributions wraps a migrated database handle.
func NewDistributions(db *gorm.DB) *Distributions {
	return &Distributions{db: db}
}

func (s *Distributions) load(tx *gorm.DB, records []distributionRecord) ([]*distribution.Distribution, error) {
	out := make([]*distribution.Distribution, 0, len(records))
	for i := range records {
		var holders []holderRecord
		if err := tx.Where("distribution_id = ?", records[i].ID).Order("position").Find(&holders).Error; err != nil {
			return nil, err
		}
		out = append(out, records[i].model(holders))
	}
	return out, nil
}

func (s *Distributions) first(ctx context.Context, column, value string) (*distribution.Distribution, error) {
	tx := s.db.WithContext(ctx)
	var records []distributionRecord
	if err := tx.Where(column+" = ?", value).Limit(1).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: load distribution: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	loaded, err := s.load(tx, records)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load holders: %w", err)
	}
	return loaded[0], nil
}

func (s *Distributions) Distribution(ctx context.Context, id string) (*distribution.Distribution, error) {
	return s.first(ctx, "id", id)
}

func (s *Distributions) DistributionByHarvest(ctx context.Context, harvestID string) (*distribution.Distribution, error) {
	return s.first(ctx, "harvest_id", harvestID)
}

func (s *Distributions) Distributions(ctx context.Context, filter distribution.Filter) ([]*distribution.Distribution, error) {
	tx := s.db.WithContext(ctx)
	query := tx.Model(&distributionRecord{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.GroveID != "" {
		query = query.Where("grove_id = ?", filter.GroveID)
	}
	var records []distributionRecord
	if err := query.Order("created_at, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list distributions: %w", err)
	}
	out, err := s.load(tx, records)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load holders: %w", err)
	}
	return out, nil
}

func (s *Distributions) Claim(ctx context.Context, distributionID, holder string) (*distribution.Claim, error) {
	var records []claimRecord
	err := s.db.WithContext(ctx).
		Where("distribution_id = ? AND holder = ?", distributionID, holder).
		Limit(1).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load claim: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0].model(), nil
}

// Claims returns the distribution's claims in snapshot order.
func (s *Distributions) Claims(ctx context.Context, distributionID string) ([]*distribution.Claim, error) {
	tx := s.db.WithContext(ctx)
	var records []claimRecord
	if err := tx.Where("distribution_id = ?", distributionID).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list claims: %w", err)
	}
	var holders []holderRecord
	if err := tx.Where("distribution_id = ?", distributionID).Find(&holders).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: load holders: %w", err)
	}
	position := make(map[string]int, len(holders))
	for _, h := range holders {
		position[h.Address] = h.Position
	}
	sort.SliceStable(records, func(i, j int) bool {
		return position[records[i].Holder] < position[records[j].Holder]
	})
	out := make([]*distribution.Claim, len(records))
	for i := range records {
		out[i] = records[i].model()
	}
	return out, nil
}

// HolderClaims returns the holder's claims ordered by distribution creation.
func (s *Distributions) HolderClaims(ctx context.Context, holder string) ([]*distribution.Claim, error) {
	var records []claimRecord
	err := s.db.WithContext(ctx).
		Table("distribution_claims").
		Select("distribution_claims.*").
		Joins("JOIN distributions ON distributions.id = distribution_claims.distribution_id").
		Where("distribution_claims.holder = ?", holder).
		Order("distributions.created_at, distributions.id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list holder claims: %w", err)
	}
	out := make([]*distribution.Claim, len(records))
	for i := range records {
		out[i] = records[i].model()
	}
	return out, nil
}

func (s *Distributions) Withdrawals(ctx context.Context, filter distribution.WithdrawalFilter) ([]*distribution.Withdrawal, error) {
	query := s.db.WithContext(ctx).Model(&withdrawalRecord{})
	if filter.GroveID != "" {
		query = query.Where("grove_id = ?", filter.GroveID)
	}
	if filter.Farmer != "" {
		query = query.Where("farmer = ?", filter.Farmer)
	}
	var records []withdrawalRecord
	if err := query.Order("withdrawn_at, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list withdrawals: %w", err)
	}
	out := make([]*distribution.Withdrawal, len(records))
	for i := range records {
		out[i] = records[i].model()
	}
	return out, nil
}

// Commit writes the batch in a single transaction.
func (s *Distributions) Commit(ctx context.Context, batch distribution.Batch) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if d := batch.Distribution; d != nil {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(newDistributionRecord(d)).Error; err != nil {
				return err
			}
			var count int64
			if err := tx.Model(&holderRecord{}).Where("distribution_id = ?", d.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 && len(d.Holders) > 0 {
				holders := make([]holderRecord, len(d.Holders))
				for i, h := range d.Holders {
					holders[i] = holderRecord{DistributionID: d.ID, Position: i, Address: h.Address, Balance: h.Balance}
				}
				if err := tx.CreateInBatches(holders, 200).Error; err != nil {
					return err
				}
			}
		}
		if len(batch.Claims) > 0 {
			claims := make([]*claimRecord, len(batch.Claims))
			for i, c := range batch.Claims {
				claims[i] = newClaimRecord(c)
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(claims, 200).Error; err != nil {
				return err
			}
		}
		if w := batch.Withdrawal; w != nil {
			record := &withdrawalRecord{
				ID:          w.ID,
				GroveID:     w.GroveID,
				Farmer:      w.Farmer,
				Asset:       w.Asset,
				Amount:      w.Amount,
				WithdrawnAt: w.WithdrawnAt,
			}
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlstore: commit distribution batch: %w", err)
	}
	return nil
}
