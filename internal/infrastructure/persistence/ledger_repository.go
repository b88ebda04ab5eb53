package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fatturino/backend/internal/domain/invoicing"
)

// GormLedgerRepository implements invoicing.LedgerRepository using GORM
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// FindByOwnerYear returns the stored ledger for (owner, year), or nil when
// the year has never been computed
func (r *GormLedgerRepository) FindByOwnerYear(ctx context.Context, ownerID uuid.UUID, year int) (*invoicing.YearlyLedger, error) {
	var ledger invoicing.YearlyLedger
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND year = ?", ownerID, year).
		First(&ledger).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

// Upsert wholly replaces the ledger row for (owner, year). Update-then-insert
// inside a transaction keeps the prior row intact if anything fails; the
// composite unique index catches a concurrent first insert.
func (r *GormLedgerRepository) Upsert(ctx context.Context, ledger *invoicing.YearlyLedger) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&invoicing.YearlyLedger{}).
			Where("owner_id = ? AND year = ?", ledger.OwnerID, ledger.Year).
			Updates(map[string]any{
				"revenue":           ledger.Revenue,
				"net_income":        ledger.NetIncome,
				"contributions_due": ledger.ContributionsDue,
				"tax_due":           ledger.TaxDue,
				"updated_at":        time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		return tx.Create(ledger).Error
	})
}

var _ invoicing.LedgerRepository = (*GormLedgerRepository)(nil)
