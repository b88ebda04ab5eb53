package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fatturino/backend/internal/domain/shared"
)

// LineItem is a billed line on an invoice or credit note. Items are immutable
// once their parent document is issued and are owned exclusively by it.
type LineItem struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	DocumentID  uuid.UUID       `json:"document_id" gorm:"type:uuid;not null;index"`
	Description string          `json:"description" gorm:"not null"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:numeric(12,4);not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	SortOrder   int             `json:"sort_order" gorm:"not null;default:0"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewLineItem creates a validated line item. Quantity must be strictly
// positive; unit price may be zero or negative for discount/storno lines.
func NewLineItem(documentID uuid.UUID, description string, quantity, unitPrice decimal.Decimal, sortOrder int) (*LineItem, error) {
	if description == "" {
		return nil, shared.NewDomainError("INVALID_LINE_ITEM", "Line item description cannot be empty")
	}
	if !quantity.IsPositive() {
		return nil, shared.NewDomainError("INVALID_LINE_ITEM", "Line item quantity must be positive")
	}
	return &LineItem{
		ID:          uuid.New(),
		DocumentID:  documentID,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		SortOrder:   sortOrder,
		CreatedAt:   time.Now(),
	}, nil
}

// Amount returns quantity times unit price
func (li *LineItem) Amount() decimal.Decimal {
	return li.Quantity.Mul(li.UnitPrice)
}

// BeforeCreate ensures IDs exist when items are persisted in bulk
func (li *LineItem) BeforeCreate(tx *gorm.DB) error {
	if li.ID == uuid.Nil {
		li.ID = uuid.New()
	}
	return nil
}
