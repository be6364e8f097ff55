package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/i-mwangi/chai-project-sub002/native/lending"
)

// Lending implements lending.State on a relational database.
type Lending struct {
	db *gorm.DB
}

var _ lending.State = (*Lending)(nil)

// NewLending wraps a migrated database handle.
func NewLending(db *gorm.DB) *Lending {
	return &Lending{db: db}
}

func (s *Lending) Pool(ctx context.Context, asset string) (*lending.Pool, error) {
	var records []poolRecord
	if err := s.db.WithContext(ctx).Where("asset = ?", asset).Limit(1).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: load pool: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0].model(), nil
}

func (s *Lending) Pools(ctx context.Context) ([]*lending.Pool, error) {
	var records []poolRecord
	if err := s.db.WithContext(ctx).Order("asset").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list pools: %w", err)
	}
	out := make([]*lending.Pool, len(records))
	for i := range records {
		out[i] = records[i].model()
	}
	return out, nil
}

func (s *Lending) Position(ctx context.Context, asset, provider string) (*lending.Position, error) {
	var records []positionRecord
	err := s.db.WithContext(ctx).
		Where("asset = ? AND provider = ?", asset, provider).
		Limit(1).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load position: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0].model(), nil
}

func (s *Lending) Positions(ctx context.Context, asset string) ([]*lending.Position, error) {
	var records []positionRecord
	if err := s.db.WithContext(ctx).Where("asset = ?", asset).Order("provider").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list positions: %w", err)
	}
	out := make([]*lending.Position, len(records))
	for i := range records {
		out[i] = records[i].model()
	}
	return out, nil
}

func (s *Lending) ActiveLoan(ctx context.Context, asset, borrower string) (*lending.Loan, error) {
	var records []loanRecord
	err := s.db.WithContext(ctx).
		Where("asset = ? AND borrower = ? AND status = ?", asset, borrower, string(lending.LoanActive)).
		Limit(1).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load loan: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0].model(), nil
}

func (s *Lending) Loans(ctx context.Context, asset string, status lending.LoanStatus) ([]*lending.Loan, error) {
	query := s.db.WithContext(ctx).Where("asset = ?", asset)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var records []loanRecord
	if err := query.Order("originated_at, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list loans: %w", err)
	}
	out := make([]*lending.Loan, len(records))
	for i := range records {
		out[i] = records[i].model()
	}
	return out, nil
}

// Commit writes the batch in a single transaction.
func (s *Lending) Commit(ctx context.Context, batch lending.Batch) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{UpdateAll: true})
		if batch.Pool != nil {
			if err := upsert.Create(newPoolRecord(batch.Pool)).Error; err != nil {
				return err
			}
		}
		if batch.Position != nil {
			record := newPositionRecord(batch.Position)
			if batch.DeletePosition {
				if err := tx.Delete(&positionRecord{}, "asset = ? AND provider = ?", record.Asset, record.Provider).Error; err != nil {
					return err
				}
			} else if err := upsert.Create(record).Error; err != nil {
				return err
			}
		}
		if batch.Loan != nil {
			if err := upsert.Create(newLoanRecord(batch.Loan)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlstore: commit lending batch: %w", err)
	}
	return nil
}
