package invoicing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fatturino/backend/internal/domain/shared"
)

// InvoiceStatus represents the payment lifecycle of an invoice
type InvoiceStatus string

const (
	InvoiceStatusIssued  InvoiceStatus = "ISSUED"
	InvoiceStatusSettled InvoiceStatus = "SETTLED"
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	return s == InvoiceStatusIssued || s == InvoiceStatusSettled
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// PaymentMethod is how the customer settles the invoice
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodOther        PaymentMethod = "OTHER"
)

// IsValid checks if the payment method is known
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodCash, PaymentMethodCard, PaymentMethodOther:
		return true
	}
	return false
}

// Invoice is the aggregate root for an issued invoice. Revenue and
// TotalAmount are denormalized snapshots of ComputeTotals over the line
// items; RecomputeTotals is the pure path the snapshot must always agree
// with.
type Invoice struct {
	shared.OwnerAggregateRoot
	// ProgressiveNumber is unique per owner and year, assigned at issuance
	ProgressiveNumber int             `json:"progressive_number" gorm:"not null"`
	Year              int             `json:"year" gorm:"not null;index"`
	IssueDate         time.Time       `json:"issue_date" gorm:"not null"`
	SettlementDate    *time.Time      `json:"settlement_date"`
	LineItems         []LineItem      `json:"line_items" gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	PaymentMethod     PaymentMethod   `json:"payment_method" gorm:"not null"`
	// Fund is copied from the owner profile at creation time and never
	// re-derived: a later profile change must not rewrite history.
	Fund           FundCode        `json:"fund" gorm:"not null"`
	Revenue        decimal.Decimal `json:"revenue" gorm:"type:numeric(12,2);not null"`
	TotalAmount    decimal.Decimal `json:"total_amount" gorm:"type:numeric(12,2);not null"`
	Status         InvoiceStatus   `json:"status" gorm:"not null;default:'ISSUED'"`
	ExchangeStatus ExchangeStatus  `json:"exchange_status" gorm:"not null;default:'NOT_SENT'"`
	ExchangeError  *string         `json:"exchange_error"`
	// ExchangeID correlates the document with the interchange system
	ExchangeID *string `json:"exchange_id" gorm:"index"`
}

// NewInvoice issues a new invoice for the owner. The progressive number is
// provided by the caller, who allocates it transactionally per owner+year.
func NewInvoice(
	ownerID uuid.UUID,
	progressiveNumber int,
	issueDate time.Time,
	items []LineItem,
	paymentMethod PaymentMethod,
	fund FundCode,
	rules FundRules,
) (*Invoice, error) {
	if ownerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_OWNER", "Owner ID cannot be empty")
	}
	if progressiveNumber <= 0 {
		return nil, shared.NewDomainError("INVALID_NUMBER", "Progressive number must be positive")
	}
	if issueDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_ISSUE_DATE", "Issue date cannot be empty")
	}
	if !paymentMethod.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_METHOD",
			fmt.Sprintf("Unknown payment method %q", paymentMethod))
	}
	if !fund.IsValid() {
		return nil, shared.NewDomainError("INVALID_FUND", fmt.Sprintf("Unknown fund %q", fund))
	}

	inv := &Invoice{
		OwnerAggregateRoot: shared.NewOwnerAggregateRoot(ownerID),
		ProgressiveNumber:  progressiveNumber,
		Year:               issueDate.Year(),
		IssueDate:          issueDate,
		PaymentMethod:      paymentMethod,
		Fund:               fund,
		Status:             InvoiceStatusIssued,
		ExchangeStatus:     ExchangeStatusNotSent,
	}

	for i := range items {
		items[i].DocumentID = inv.ID
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		items[i].SortOrder = i
	}
	inv.LineItems = items

	totals, err := ComputeTotals(items, TotalsContext{Rules: rules})
	if err != nil {
		return nil, err
	}
	inv.Revenue = totals.GrossRevenue
	inv.TotalAmount = totals.TotalAmount

	return inv, nil
}

// RecomputeTotals is the pure recomputation path for the denormalized
// monetary fields. It returns fresh totals without mutating the invoice.
func (inv *Invoice) RecomputeTotals(rules FundRules) (Totals, error) {
	return ComputeTotals(inv.LineItems, TotalsContext{Rules: rules})
}

// TotalsDrifted reports whether the stored snapshot disagrees with a fresh
// recomputation. A drifted snapshot is a bug, not a presentation concern.
func (inv *Invoice) TotalsDrifted(rules FundRules) (bool, error) {
	fresh, err := inv.RecomputeTotals(rules)
	if err != nil {
		return false, err
	}
	return !fresh.GrossRevenue.Equal(inv.Revenue) || !fresh.TotalAmount.Equal(inv.TotalAmount), nil
}

// Settle marks the invoice as paid on the given date. The settlement date
// governs fiscal-year attribution: contributions are owed on cash received.
func (inv *Invoice) Settle(settlementDate time.Time) error {
	if inv.Status == InvoiceStatusSettled {
		return shared.NewDomainError("ALREADY_SETTLED", "Invoice is already settled")
	}
	if settlementDate.IsZero() {
		return shared.NewDomainError("INVALID_SETTLEMENT_DATE", "Settlement date cannot be empty")
	}
	if settlementDate.Before(inv.IssueDate) {
		return shared.NewDomainError("INVALID_SETTLEMENT_DATE", "Settlement date cannot precede issue date")
	}
	inv.Status = InvoiceStatusSettled
	inv.SettlementDate = &settlementDate
	inv.IncrementVersion()
	return nil
}

// SettledIn reports whether the invoice is settled within the given fiscal year
func (inv *Invoice) SettledIn(year int) bool {
	return inv.Status == InvoiceStatusSettled &&
		inv.SettlementDate != nil &&
		inv.SettlementDate.Year() == year
}

// MarkSent records that the document was handed to the interchange system
func (inv *Invoice) MarkSent(exchangeID string) error {
	if exchangeID == "" {
		return shared.NewDomainError("INVALID_EXCHANGE_ID", "Exchange ID cannot be empty")
	}
	inv.ExchangeStatus = ExchangeStatusSent
	inv.ExchangeID = &exchangeID
	inv.ExchangeError = nil
	inv.IncrementVersion()
	return nil
}

// ApplyExchangeTransition applies a state-machine outcome to the invoice.
// Returns false when nothing changed (duplicate or superseded event).
func (inv *Invoice) ApplyExchangeTransition(t ExchangeTransition) bool {
	if !t.Changed {
		return false
	}
	inv.ExchangeStatus = t.Next
	inv.ExchangeError = t.Error
	inv.IncrementVersion()
	return true
}

// TableName overrides the gorm table name
func (Invoice) TableName() string {
	return "invoices"
}
