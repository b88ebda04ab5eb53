package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fatturino/backend/internal/domain/invoicing"
	"github.com/fatturino/backend/internal/domain/shared"
)

// GormInvoiceRepository implements invoicing.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// FindByID finds an invoice by its ID, line items loaded
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*invoicing.Invoice, error) {
	var invoice invoicing.Invoice
	if err := r.db.WithContext(ctx).
		Preload("LineItems", lineItemOrder).
		First(&invoice, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// FindByIDForOwner finds an invoice by ID within an owner's scope
func (r *GormInvoiceRepository) FindByIDForOwner(ctx context.Context, ownerID, id uuid.UUID) (*invoicing.Invoice, error) {
	var invoice invoicing.Invoice
	if err := r.db.WithContext(ctx).
		Preload("LineItems", lineItemOrder).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// FindByExchangeID resolves the external correlation id across all owners;
// webhooks carry no owner scope
func (r *GormInvoiceRepository) FindByExchangeID(ctx context.Context, exchangeID string) (*invoicing.Invoice, error) {
	var invoice invoicing.Invoice
	if err := r.db.WithContext(ctx).
		Preload("LineItems", lineItemOrder).
		Where("exchange_id = ?", exchangeID).
		First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// FindAllForOwner returns the owner's invoices, paginated and sorted
func (r *GormInvoiceRepository) FindAllForOwner(ctx context.Context, ownerID uuid.UUID, filter shared.Filter) ([]invoicing.Invoice, int64, error) {
	query := r.db.WithContext(ctx).Model(&invoicing.Invoice{}).Where("owner_id = ?", ownerID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, InvoiceSortFields, "issue_date")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var invoices []invoicing.Invoice
	if err := query.
		Preload("LineItems", lineItemOrder).
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&invoices).Error; err != nil {
		return nil, 0, err
	}

	return invoices, total, nil
}

// ListSettled returns the owner's invoices whose settlement date falls in
// the fiscal year, in settlement order
func (r *GormInvoiceRepository) ListSettled(ctx context.Context, ownerID uuid.UUID, year int) ([]invoicing.Invoice, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	var invoices []invoicing.Invoice
	if err := r.db.WithContext(ctx).
		Preload("LineItems", lineItemOrder).
		Where("owner_id = ? AND status = ? AND settlement_date >= ? AND settlement_date < ?",
			ownerID, invoicing.InvoiceStatusSettled, from, to).
		Order("settlement_date ASC, progressive_number ASC").
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// NextProgressiveNumber allocates the next number for owner+year. The
// allocation is not transactional with the save: the unique index on
// (owner_id, year, progressive_number) turns a racing allocation into
// shared.ErrAlreadyExists at save time, and callers reallocate and retry.
func (r *GormInvoiceRepository) NextProgressiveNumber(ctx context.Context, ownerID uuid.UUID, year int) (int, error) {
	return nextProgressiveNumber(ctx, r.db, "invoices", ownerID, year)
}

// Save persists the invoice and its line items. A unique violation on
// (owner_id, year, progressive_number) surfaces as shared.ErrAlreadyExists
// so callers can reallocate the number and retry.
func (r *GormInvoiceRepository) Save(ctx context.Context, invoice *invoicing.Invoice) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: true}).
		Save(invoice).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// SaveVersioned persists the version-guarded mutable state: settlement and
// exchange columns, the only ones the post-issue lifecycle touches. The
// invoice carries its already-incremented version; the write applies only
// when the stored row still holds expectedVersion.
func (r *GormInvoiceRepository) SaveVersioned(ctx context.Context, invoice *invoicing.Invoice, expectedVersion int) error {
	result := r.db.WithContext(ctx).
		Model(&invoicing.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, expectedVersion).
		Updates(map[string]any{
			"status":          invoice.Status,
			"settlement_date": invoice.SettlementDate,
			"exchange_status": invoice.ExchangeStatus,
			"exchange_error":  invoice.ExchangeError,
			"exchange_id":     invoice.ExchangeID,
			"version":         invoice.Version,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Delete removes an invoice within an owner's scope; the schema cascades
// to line items and credit notes
func (r *GormInvoiceRepository) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, id).
		Delete(&invoicing.Invoice{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// lineItemOrder keeps preloaded line items in document order
func lineItemOrder(db *gorm.DB) *gorm.DB {
	return db.Order("line_items.sort_order ASC")
}

// nextProgressiveNumber computes MAX(progressive_number)+1 for owner+year
// on the given table
func nextProgressiveNumber(ctx context.Context, db *gorm.DB, table string, ownerID uuid.UUID, year int) (int, error) {
	var current int
	err := db.WithContext(ctx).
		Table(table).
		Where("owner_id = ? AND year = ?", ownerID, year).
		Select("COALESCE(MAX(progressive_number), 0)").
		Scan(&current).Error
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

var _ invoicing.InvoiceRepository = (*GormInvoiceRepository)(nil)
