package invoicing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FundCode identifies a welfare fund (cassa previdenziale). Each regulated
// profession contributes to its own fund; everyone else falls under the INPS
// separate management scheme.
type FundCode string

const (
	FundSeparateManagement FundCode = "GS"        // INPS Gestione Separata
	FundForense            FundCode = "FORENSE"   // Cassa Forense (lawyers)
	FundInarcassa          FundCode = "INARCASSA" // Engineers and architects
	FundEnpam              FundCode = "ENPAM"     // Physicians
	FundEnpap              FundCode = "ENPAP"     // Psychologists
)

// IsValid checks if the code is a known fund
func (f FundCode) IsValid() bool {
	switch f {
	case FundSeparateManagement, FundForense, FundInarcassa, FundEnpam, FundEnpap:
		return true
	}
	return false
}

// String returns the string representation of the fund code
func (f FundCode) String() string {
	return string(f)
}

// FundRules holds the parameters a fund applies to a fiscal year.
// IncomeCoefficient presumptively derives taxable income from gross revenue;
// ContributionDue is clamped to the [MinContribution, MaxContribution] band.
type FundRules struct {
	Fund              FundCode
	Year              int
	IncomeCoefficient decimal.Decimal
	ContributionRate  decimal.Decimal
	MinContribution   decimal.Decimal
	// MaxContribution is nil when the fund has no contribution ceiling
	MaxContribution *decimal.Decimal
}

// ClampContribution applies the fund's min/max band to a raw contribution amount
func (r FundRules) ClampContribution(raw decimal.Decimal) decimal.Decimal {
	clamped := raw
	if clamped.LessThan(r.MinContribution) {
		clamped = r.MinContribution
	}
	if r.MaxContribution != nil && clamped.GreaterThan(*r.MaxContribution) {
		clamped = *r.MaxContribution
	}
	return clamped
}

// TaxBracket is one step of a progressive tax schedule. UpTo is nil for the
// top (unbounded) bracket.
type TaxBracket struct {
	UpTo *decimal.Decimal
	Rate decimal.Decimal
}

// TaxSchedule is an ordered sequence of brackets applied to net income
type TaxSchedule []TaxBracket

// TaxOn computes the tax due on the given net income. Negative net income
// yields zero tax.
func (s TaxSchedule) TaxOn(netIncome decimal.Decimal) decimal.Decimal {
	if netIncome.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	tax := decimal.Zero
	lower := decimal.Zero
	for _, b := range s {
		if b.UpTo == nil {
			tax = tax.Add(netIncome.Sub(lower).Mul(b.Rate))
			break
		}
		upper := *b.UpTo
		if netIncome.LessThanOrEqual(upper) {
			tax = tax.Add(netIncome.Sub(lower).Mul(b.Rate))
			break
		}
		tax = tax.Add(upper.Sub(lower).Mul(b.Rate))
		lower = upper
	}
	return tax
}

// FlatSchedule builds a single-bracket schedule, the shape the flat-rate
// substitute tax takes (5% for startups, 15% standard).
func FlatSchedule(rate decimal.Decimal) TaxSchedule {
	return TaxSchedule{{UpTo: nil, Rate: rate}}
}

// RulesRegistry is a versioned lookup table of fund rules and tax schedules.
// It is explicit data passed into the calculator, never ambient state, so
// historical invoices can be recomputed under the rules of their own year.
type RulesRegistry struct {
	rules     map[FundCode]map[int]FundRules
	schedules map[FundCode]map[int]TaxSchedule
}

// NewRulesRegistry creates an empty registry
func NewRulesRegistry() *RulesRegistry {
	return &RulesRegistry{
		rules:     make(map[FundCode]map[int]FundRules),
		schedules: make(map[FundCode]map[int]TaxSchedule),
	}
}

// Register adds or replaces the rules for a fund/year pair
func (r *RulesRegistry) Register(rules FundRules, schedule TaxSchedule) {
	if r.rules[rules.Fund] == nil {
		r.rules[rules.Fund] = make(map[int]FundRules)
	}
	if r.schedules[rules.Fund] == nil {
		r.schedules[rules.Fund] = make(map[int]TaxSchedule)
	}
	r.rules[rules.Fund][rules.Year] = rules
	r.schedules[rules.Fund][rules.Year] = schedule
}

// RulesFor returns the rules in effect for the fund in the given year
func (r *RulesRegistry) RulesFor(fund FundCode, year int) (FundRules, error) {
	byYear, ok := r.rules[fund]
	if !ok {
		return FundRules{}, fmt.Errorf("no rules registered for fund %s", fund)
	}
	rules, ok := byYear[year]
	if !ok {
		return FundRules{}, fmt.Errorf("no rules registered for fund %s in year %d", fund, year)
	}
	return rules, nil
}

// ScheduleFor returns the tax schedule in effect for the fund in the given year
func (r *RulesRegistry) ScheduleFor(fund FundCode, year int) (TaxSchedule, error) {
	byYear, ok := r.schedules[fund]
	if !ok {
		return nil, fmt.Errorf("no tax schedule registered for fund %s", fund)
	}
	schedule, ok := byYear[year]
	if !ok {
		return nil, fmt.Errorf("no tax schedule registered for fund %s in year %d", fund, year)
	}
	return schedule, nil
}

// DefaultRegistry returns a registry preloaded with the published parameters
// for the supported funds. Rates change year over year; each year is a
// distinct entry so recomputation stays historically accurate.
func DefaultRegistry() *RulesRegistry {
	reg := NewRulesRegistry()

	flat := FlatSchedule(decimal.NewFromFloat(0.15))

	for year, rate := range map[int]float64{
		2022: 0.2598,
		2023: 0.2623,
		2024: 0.2607,
		2025: 0.2607,
	} {
		reg.Register(FundRules{
			Fund:              FundSeparateManagement,
			Year:              year,
			IncomeCoefficient: decimal.NewFromFloat(0.78),
			ContributionRate:  decimal.NewFromFloat(rate),
			MinContribution:   decimal.Zero,
			MaxContribution:   nil,
		}, flat)
	}

	for year := 2022; year <= 2025; year++ {
		maxForense := decimal.NewFromInt(119650)
		reg.Register(FundRules{
			Fund:              FundForense,
			Year:              year,
			IncomeCoefficient: decimal.NewFromFloat(0.78),
			ContributionRate:  decimal.NewFromFloat(0.15),
			MinContribution:   decimal.NewFromInt(3355),
			MaxContribution:   &maxForense,
		}, flat)

		reg.Register(FundRules{
			Fund:              FundInarcassa,
			Year:              year,
			IncomeCoefficient: decimal.NewFromFloat(0.78),
			ContributionRate:  decimal.NewFromFloat(0.145),
			MinContribution:   decimal.NewFromInt(2695),
			MaxContribution:   nil,
		}, flat)

		reg.Register(FundRules{
			Fund:              FundEnpam,
			Year:              year,
			IncomeCoefficient: decimal.NewFromFloat(0.78),
			ContributionRate:  decimal.NewFromFloat(0.1975),
			MinContribution:   decimal.Zero,
			MaxContribution:   nil,
		}, flat)

		reg.Register(FundRules{
			Fund:              FundEnpap,
			Year:              year,
			IncomeCoefficient: decimal.NewFromFloat(0.78),
			ContributionRate:  decimal.NewFromFloat(0.10),
			MinContribution:   decimal.NewFromInt(780),
			MaxContribution:   nil,
		}, flat)
	}

	return reg
}
