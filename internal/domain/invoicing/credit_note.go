package invoicing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fatturino/backend/internal/domain/shared"
)

// CreditNoteMode distinguishes a full reversal from a partial one
type CreditNoteMode string

const (
	CreditNoteModeFull    CreditNoteMode = "FULL"
	CreditNoteModePartial CreditNoteMode = "PARTIAL"
)

// IsValid checks if the mode is a valid CreditNoteMode
func (m CreditNoteMode) IsValid() bool {
	return m == CreditNoteModeFull || m == CreditNoteModePartial
}

// String returns the string representation of CreditNoteMode
func (m CreditNoteMode) String() string {
	return string(m)
}

// ReversalLineDescription is the synthetic line a credit note's own total is
// computed from.
const ReversalLineDescription = "Reversal for invoicing error"

// CreditNote reverses all or part of a previously issued invoice's taxable
// amount. It never outlives its parent invoice and reduces the parent's
// effective base for subsequent aggregation.
type CreditNote struct {
	shared.OwnerAggregateRoot
	ProgressiveNumber int       `json:"progressive_number" gorm:"not null"`
	Year              int       `json:"year" gorm:"not null;index"`
	InvoiceID         uuid.UUID `json:"invoice_id" gorm:"type:uuid;not null;index"`
	Mode              CreditNoteMode `json:"mode" gorm:"not null"`
	// Amount is the reversed amount: the caller-supplied figure for PARTIAL
	// notes, the parent's residual captured at creation time for FULL notes.
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	IssueDate time.Time       `json:"issue_date" gorm:"not null"`
	Fund      FundCode        `json:"fund" gorm:"not null"`
	// Total is the derived snapshot of the note's own monetary total
	Total          decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`
	ExchangeStatus ExchangeStatus  `json:"exchange_status" gorm:"not null;default:'NOT_SENT'"`
	ExchangeError  *string         `json:"exchange_error"`
	ExchangeID     *string         `json:"exchange_id" gorm:"index"`
}

// NewCreditNote issues a credit note against an invoice. residual is the
// invoice's effective taxable base at issuance, already adjusted for prior
// notes; the caller derives it via EffectiveInvoiceBase within the same
// transaction that persists the note.
func NewCreditNote(
	invoice *Invoice,
	progressiveNumber int,
	issueDate time.Time,
	mode CreditNoteMode,
	partialAmount decimal.Decimal,
	residual decimal.Decimal,
	rules FundRules,
) (*CreditNote, error) {
	if invoice == nil {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Parent invoice is required")
	}
	if progressiveNumber <= 0 {
		return nil, shared.NewDomainError("INVALID_NUMBER", "Progressive number must be positive")
	}
	if issueDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_ISSUE_DATE", "Issue date cannot be empty")
	}
	if !mode.IsValid() {
		return nil, shared.NewDomainError("INVALID_MODE", fmt.Sprintf("Unknown credit note mode %q", mode))
	}
	if !residual.IsPositive() {
		return nil, shared.NewDomainError("NO_RESIDUAL",
			"Invoice has no residual taxable amount left to reverse")
	}

	amount := residual
	if mode == CreditNoteModePartial {
		if !partialAmount.IsPositive() {
			return nil, shared.NewDomainError("INVALID_AMOUNT", "Partial amount must be positive")
		}
		if partialAmount.GreaterThan(residual) {
			return nil, shared.NewDomainError("AMOUNT_EXCEEDS_RESIDUAL",
				fmt.Sprintf("Partial amount %s exceeds residual %s",
					partialAmount.StringFixed(2), residual.StringFixed(2)))
		}
		amount = partialAmount
	}

	note := &CreditNote{
		OwnerAggregateRoot: shared.NewOwnerAggregateRoot(invoice.OwnerID),
		ProgressiveNumber:  progressiveNumber,
		Year:               issueDate.Year(),
		InvoiceID:          invoice.ID,
		Mode:               mode,
		Amount:             amount,
		IssueDate:          issueDate,
		Fund:               invoice.Fund,
		ExchangeStatus:     ExchangeStatusNotSent,
	}

	totals, err := ComputeTotalsForAmount(ReversalLineDescription, amount, TotalsContext{Rules: rules})
	if err != nil {
		return nil, err
	}
	note.Total = totals.TotalAmount

	return note, nil
}

// RecomputeTotal is the pure recomputation path for the note's Total snapshot
func (cn *CreditNote) RecomputeTotal(rules FundRules) (Totals, error) {
	return ComputeTotalsForAmount(ReversalLineDescription, cn.Amount, TotalsContext{Rules: rules})
}

// MarkSent records that the note was handed to the interchange system
func (cn *CreditNote) MarkSent(exchangeID string) error {
	if exchangeID == "" {
		return shared.NewDomainError("INVALID_EXCHANGE_ID", "Exchange ID cannot be empty")
	}
	cn.ExchangeStatus = ExchangeStatusSent
	cn.ExchangeID = &exchangeID
	cn.ExchangeError = nil
	cn.IncrementVersion()
	return nil
}

// ApplyExchangeTransition applies a state-machine outcome to the note.
// Returns false when nothing changed.
func (cn *CreditNote) ApplyExchangeTransition(t ExchangeTransition) bool {
	if !t.Changed {
		return false
	}
	cn.ExchangeStatus = t.Next
	cn.ExchangeError = t.Error
	cn.IncrementVersion()
	return true
}

// TableName overrides the gorm table name
func (CreditNote) TableName() string {
	return "credit_notes"
}
