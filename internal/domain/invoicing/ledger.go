package invoicing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fatturino/backend/internal/domain/shared"
)

// YearlyLedger is the fully derived tax position of an owner for one fiscal
// year. It is never patched incrementally: a recompute wholly replaces the
// stored row, which is what keeps it drift-free.
type YearlyLedger struct {
	shared.OwnerAggregateRoot
	// Uniqueness over (owner_id, year) is enforced by a composite index
	// created in migrations
	Year             int             `json:"year" gorm:"not null;index"`
	Revenue          decimal.Decimal `json:"revenue" gorm:"type:numeric(14,2);not null"`
	NetIncome        decimal.Decimal `json:"net_income" gorm:"type:numeric(14,2);not null"`
	ContributionsDue decimal.Decimal `json:"contributions_due" gorm:"type:numeric(14,2);not null"`
	TaxDue           decimal.Decimal `json:"tax_due" gorm:"type:numeric(14,2);not null"`
}

// TableName overrides the gorm table name
func (YearlyLedger) TableName() string {
	return "yearly_ledgers"
}

// RecomputeYearlyLedger folds every invoice settled in the target year into a
// fresh ledger. Attribution is by settlement date, not issue date:
// contributions are owed on cash received. Each invoice's base is adjusted
// for its credit notes before totals are derived under the rules of the
// target year.
//
// The function is pure and deterministic: applied twice over the same data
// it yields identical ledgers. Zero qualifying invoices produce an all-zero
// ledger, not an error.
func RecomputeYearlyLedger(
	ownerID uuid.UUID,
	year int,
	invoices []Invoice,
	notesByInvoice map[uuid.UUID][]CreditNote,
	registry *RulesRegistry,
) (*YearlyLedger, error) {
	if ownerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_OWNER", "Owner ID cannot be empty")
	}
	if registry == nil {
		return nil, shared.NewDomainError("INVALID_RULES", "Rules registry is required")
	}

	revenue := decimal.Zero
	taxable := decimal.Zero
	contributions := decimal.Zero

	// An owner can invoice under more than one fund in a year, and each
	// fund carries its own tax schedule. Net income is therefore
	// accumulated per fund and taxed under that fund's schedule; TaxDue is
	// the sum over funds.
	netByFund := make(map[FundCode]decimal.Decimal)

	for i := range invoices {
		inv := &invoices[i]
		if !inv.SettledIn(year) {
			continue
		}

		rules, err := registry.RulesFor(inv.Fund, year)
		if err != nil {
			return nil, err
		}

		base, err := EffectiveInvoiceBase(inv, notesByInvoice[inv.ID])
		if err != nil {
			return nil, err
		}

		totals, err := ComputeTotalsForAmount("Adjusted invoice base", base, TotalsContext{Rules: rules})
		if err != nil {
			return nil, err
		}

		revenue = revenue.Add(totals.GrossRevenue)
		taxable = taxable.Add(totals.TaxableIncome)
		contributions = contributions.Add(totals.ContributionDue)
		netByFund[inv.Fund] = netByFund[inv.Fund].
			Add(totals.TaxableIncome).
			Sub(totals.ContributionDue)
	}

	netIncome := taxable.Sub(contributions)

	// Addition commutes, so map iteration order cannot change the sum
	taxDue := decimal.Zero
	for fund, net := range netByFund {
		schedule, err := registry.ScheduleFor(fund, year)
		if err != nil {
			return nil, err
		}
		taxDue = taxDue.Add(schedule.TaxOn(net))
	}

	return &YearlyLedger{
		OwnerAggregateRoot: shared.NewOwnerAggregateRoot(ownerID),
		Year:               year,
		Revenue:            revenue,
		NetIncome:          netIncome,
		ContributionsDue:   contributions,
		TaxDue:             taxDue,
	}, nil
}
