package invoicing

import (
	"github.com/shopspring/decimal"

	"github.com/fatturino/backend/internal/domain/shared"
)

// Totals is the monetary breakdown of a single invoice or credit note.
// The regime carries no VAT line, so TotalAmount equals GrossRevenue.
type Totals struct {
	GrossRevenue    decimal.Decimal `json:"gross_revenue"`
	TaxableIncome   decimal.Decimal `json:"taxable_income"`
	ContributionDue decimal.Decimal `json:"contribution_due"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
}

// TotalsContext carries the regime parameters a totals computation depends
// on. It is plain data: the same items and context always produce the same
// Totals, which is what makes recomputation-for-drift-detection valid.
type TotalsContext struct {
	Rules FundRules
}

// ComputeTotals derives the monetary breakdown from line items and regime
// parameters. It is a pure function: no clock, no randomness, no I/O.
//
// Zero line items yield all-zero totals, not an error. A negative net total
// (discount lines exceeding gross) propagates unmodified; presentation is the
// caller's concern.
func ComputeTotals(items []LineItem, ctx TotalsContext) (Totals, error) {
	if len(items) == 0 {
		return Totals{
			GrossRevenue:    decimal.Zero,
			TaxableIncome:   decimal.Zero,
			ContributionDue: decimal.Zero,
			TotalAmount:     decimal.Zero,
		}, nil
	}

	gross := decimal.Zero
	for i := range items {
		if !items[i].Quantity.IsPositive() {
			return Totals{}, shared.NewDomainError("INVALID_LINE_ITEM",
				"Line item quantity must be positive: "+items[i].Description)
		}
		gross = gross.Add(items[i].Amount())
	}

	taxable := gross.Mul(ctx.Rules.IncomeCoefficient)
	contribution := ctx.Rules.ClampContribution(taxable.Mul(ctx.Rules.ContributionRate))

	return Totals{
		GrossRevenue:    gross,
		TaxableIncome:   taxable,
		ContributionDue: contribution,
		TotalAmount:     gross,
	}, nil
}

// ComputeTotalsForAmount computes totals for a bare monetary amount by
// wrapping it in a synthetic single-quantity line. Used for credit notes and
// for invoices whose taxable base was adjusted by credit notes.
func ComputeTotalsForAmount(description string, amount decimal.Decimal, ctx TotalsContext) (Totals, error) {
	item := LineItem{
		Description: description,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   amount,
	}
	return ComputeTotals([]LineItem{item}, ctx)
}
