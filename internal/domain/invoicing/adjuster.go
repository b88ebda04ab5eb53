package invoicing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fatturino/backend/internal/domain/shared"
)

// EffectiveInvoiceBase derives the invoice's taxable base after applying its
// credit notes. Notes fold sequentially in issuance order; the residual never
// increases, so the fold is order-deterministic.
//
// Validation happens at note creation. A note that no longer fits its
// recorded residual here indicates an upstream data-integrity bug and
// surfaces as an invariant violation, never a silent clamp.
func EffectiveInvoiceBase(invoice *Invoice, notes []CreditNote) (decimal.Decimal, error) {
	if invoice == nil {
		return decimal.Decimal{}, shared.NewDomainError("INVALID_INVOICE", "Invoice is required")
	}

	residual := invoice.Revenue
	if len(notes) == 0 {
		return residual, nil
	}

	ordered := make([]CreditNote, len(notes))
	copy(ordered, notes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].IssueDate.Equal(ordered[j].IssueDate) {
			return ordered[i].IssueDate.Before(ordered[j].IssueDate)
		}
		return ordered[i].ProgressiveNumber < ordered[j].ProgressiveNumber
	})

	for i := range ordered {
		note := &ordered[i]
		if note.InvoiceID != invoice.ID {
			return decimal.Decimal{}, shared.NewInvariantViolation(fmt.Sprintf(
				"Credit note %s does not belong to invoice %s", note.ID, invoice.ID))
		}
		if note.Amount.GreaterThan(residual) {
			return decimal.Decimal{}, shared.NewInvariantViolation(fmt.Sprintf(
				"Credit note %s reverses %s but invoice %s has residual %s",
				note.ID, note.Amount.StringFixed(2), invoice.ID, residual.StringFixed(2)))
		}
		residual = residual.Sub(note.Amount)
	}

	return residual, nil
}
