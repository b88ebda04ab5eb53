package invoicing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatturino/backend/internal/domain/shared"
)

// issueNote creates a note against inv assuming the given residual, the way
// the credit note service does it: residual derived right before creation.
func issueNote(t *testing.T, inv *Invoice, number int, daysAfter int, mode CreditNoteMode, amount, residual decimal.Decimal) CreditNote {
	t.Helper()
	note, err := NewCreditNote(inv, number, inv.IssueDate.AddDate(0, 0, daysAfter), mode, amount, residual, testRules())
	require.NoError(t, err)
	return *note
}

func TestEffectiveInvoiceBase(t *testing.T) {
	t.Run("no credit notes", func(t *testing.T) {
		inv := newTestInvoice(t) // revenue 200
		base, err := EffectiveInvoiceBase(inv, nil)
		require.NoError(t, err)
		assert.True(t, base.Equal(decimal.NewFromInt(200)))
	})

	t.Run("sequential partials then full", func(t *testing.T) {
		inv := newTestInvoice(t) // revenue 200
		notes := []CreditNote{}

		first := issueNote(t, inv, 1, 1, CreditNoteModePartial, decimal.NewFromInt(50), decimal.NewFromInt(200))
		notes = append(notes, first)
		base, err := EffectiveInvoiceBase(inv, notes)
		require.NoError(t, err)
		assert.True(t, base.Equal(decimal.NewFromInt(150)))

		second := issueNote(t, inv, 2, 2, CreditNoteModePartial, decimal.NewFromInt(50), base)
		notes = append(notes, second)
		base, err = EffectiveInvoiceBase(inv, notes)
		require.NoError(t, err)
		assert.True(t, base.Equal(decimal.NewFromInt(100)))

		// A FULL note after prior partials reduces only the remaining
		// residual, not the original gross.
		full := issueNote(t, inv, 3, 3, CreditNoteModeFull, decimal.Zero, base)
		assert.True(t, full.Amount.Equal(decimal.NewFromInt(100)))
		notes = append(notes, full)
		base, err = EffectiveInvoiceBase(inv, notes)
		require.NoError(t, err)
		assert.True(t, base.IsZero())

		// Residual exhausted: issuing a further note fails validation
		_, err = NewCreditNote(inv, 4, inv.IssueDate.AddDate(0, 0, 4),
			CreditNoteModePartial, decimal.NewFromInt(1), base, testRules())
		require.Error(t, err)
	})

	t.Run("residual never increases", func(t *testing.T) {
		inv := newTestInvoice(t, mustItem(t, "Project", 1, 1000))
		notes := []CreditNote{}
		prev := inv.Revenue

		for i, amt := range []int64{100, 250, 1, 399} {
			notes = append(notes, issueNote(t, inv, i+1, i+1, CreditNoteModePartial, decimal.NewFromInt(amt), prev))
			base, err := EffectiveInvoiceBase(inv, notes)
			require.NoError(t, err)
			assert.True(t, base.LessThanOrEqual(prev), "after note %d: %s > %s", i+1, base, prev)
			prev = base
		}
	})

	t.Run("notes fold in issuance order regardless of slice order", func(t *testing.T) {
		inv := newTestInvoice(t) // revenue 200
		first := issueNote(t, inv, 1, 1, CreditNoteModePartial, decimal.NewFromInt(120), decimal.NewFromInt(200))
		second := issueNote(t, inv, 2, 5, CreditNoteModePartial, decimal.NewFromInt(80), decimal.NewFromInt(80))

		base, err := EffectiveInvoiceBase(inv, []CreditNote{second, first})
		require.NoError(t, err)
		assert.True(t, base.IsZero())
	})

	t.Run("over-reversal is an invariant violation", func(t *testing.T) {
		inv := newTestInvoice(t) // revenue 200
		note := issueNote(t, inv, 1, 1, CreditNoteModePartial, decimal.NewFromInt(150), decimal.NewFromInt(200))
		// Two notes that individually passed validation but jointly
		// exceed the invoice: a data-integrity bug upstream.
		dup := note
		dup.ID = uuid.New()
		dup.ProgressiveNumber = 2

		_, err := EffectiveInvoiceBase(inv, []CreditNote{note, dup})
		require.Error(t, err)
		assert.True(t, shared.IsInvariantViolation(err))
	})

	t.Run("foreign note is an invariant violation", func(t *testing.T) {
		inv := newTestInvoice(t)
		other := newTestInvoice(t)
		stray := issueNote(t, other, 1, 1, CreditNoteModePartial, decimal.NewFromInt(10), other.Revenue)

		_, err := EffectiveInvoiceBase(inv, []CreditNote{stray})
		require.Error(t, err)
		assert.True(t, shared.IsInvariantViolation(err))
	})
}

func TestEffectiveInvoiceBase_Deterministic(t *testing.T) {
	inv := newTestInvoice(t, mustItem(t, "Retainer", 1, 500))
	notes := []CreditNote{
		issueNote(t, inv, 1, 1, CreditNoteModePartial, decimal.NewFromInt(100), decimal.NewFromInt(500)),
		issueNote(t, inv, 2, 2, CreditNoteModePartial, decimal.NewFromInt(150), decimal.NewFromInt(400)),
	}

	first, err := EffectiveInvoiceBase(inv, notes)
	require.NoError(t, err)
	second, err := EffectiveInvoiceBase(inv, notes)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}
