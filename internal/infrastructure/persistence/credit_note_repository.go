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

// GormCreditNoteRepository implements invoicing.CreditNoteRepository using GORM
type GormCreditNoteRepository struct {
	db *gorm.DB
}

// NewGormCreditNoteRepository creates a new GormCreditNoteRepository
func NewGormCreditNoteRepository(db *gorm.DB) *GormCreditNoteRepository {
	return &GormCreditNoteRepository{db: db}
}

// FindByID finds a credit note by its ID
func (r *GormCreditNoteRepository) FindByID(ctx context.Context, id uuid.UUID) (*invoicing.CreditNote, error) {
	var note invoicing.CreditNote
	if err := r.db.WithContext(ctx).First(&note, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &note, nil
}

// FindByIDForOwner finds a credit note by ID within an owner's scope
func (r *GormCreditNoteRepository) FindByIDForOwner(ctx context.Context, ownerID, id uuid.UUID) (*invoicing.CreditNote, error) {
	var note invoicing.CreditNote
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &note, nil
}

// FindByExchangeID resolves the external correlation id across all owners
func (r *GormCreditNoteRepository) FindByExchangeID(ctx context.Context, exchangeID string) (*invoicing.CreditNote, error) {
	var note invoicing.CreditNote
	if err := r.db.WithContext(ctx).
		Where("exchange_id = ?", exchangeID).
		First(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &note, nil
}

// ListByInvoice returns all notes against an invoice in issuance order
func (r *GormCreditNoteRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]invoicing.CreditNote, error) {
	var notes []invoicing.CreditNote
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("issue_date ASC, progressive_number ASC").
		Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}

// FindAllForOwner returns the owner's credit notes, paginated and sorted
func (r *GormCreditNoteRepository) FindAllForOwner(ctx context.Context, ownerID uuid.UUID, filter shared.Filter) ([]invoicing.CreditNote, int64, error) {
	query := r.db.WithContext(ctx).Model(&invoicing.CreditNote{}).Where("owner_id = ?", ownerID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, CreditNoteSortFields, "issue_date")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var notes []invoicing.CreditNote
	if err := query.
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&notes).Error; err != nil {
		return nil, 0, err
	}

	return notes, total, nil
}

// NextProgressiveNumber allocates the next number for owner+year
func (r *GormCreditNoteRepository) NextProgressiveNumber(ctx context.Context, ownerID uuid.UUID, year int) (int, error) {
	return nextProgressiveNumber(ctx, r.db, "credit_notes", ownerID, year)
}

// Save persists the credit note. A unique violation on the progressive
// number surfaces as shared.ErrAlreadyExists so callers can reallocate
// and retry.
func (r *GormCreditNoteRepository) Save(ctx context.Context, note *invoicing.CreditNote) error {
	err := r.db.WithContext(ctx).Save(note).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// SaveVersioned persists under optimistic locking, mirroring the invoice
// repository's semantics
func (r *GormCreditNoteRepository) SaveVersioned(ctx context.Context, note *invoicing.CreditNote, expectedVersion int) error {
	result := r.db.WithContext(ctx).
		Model(&invoicing.CreditNote{}).
		Where("id = ? AND version = ?", note.ID, expectedVersion).
		Updates(map[string]any{
			"exchange_status": note.ExchangeStatus,
			"exchange_error":  note.ExchangeError,
			"exchange_id":     note.ExchangeID,
			"version":         note.Version,
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

var _ invoicing.CreditNoteRepository = (*GormCreditNoteRepository)(nil)
