package invoicing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreditNote(t *testing.T) {
	inv := newTestInvoice(t) // revenue 200
	issueDate := inv.IssueDate.AddDate(0, 0, 7)

	t.Run("partial note", func(t *testing.T) {
		note, err := NewCreditNote(inv, 1, issueDate, CreditNoteModePartial,
			decimal.NewFromInt(50), inv.Revenue, testRules())
		require.NoError(t, err)

		assert.Equal(t, CreditNoteModePartial, note.Mode)
		assert.True(t, note.Amount.Equal(decimal.NewFromInt(50)))
		assert.True(t, note.Total.Equal(decimal.NewFromInt(50)))
		assert.Equal(t, inv.ID, note.InvoiceID)
		assert.Equal(t, inv.OwnerID, note.OwnerID)
		assert.Equal(t, inv.Fund, note.Fund)
		assert.Equal(t, ExchangeStatusNotSent, note.ExchangeStatus)
	})

	t.Run("full note captures residual", func(t *testing.T) {
		residual := decimal.NewFromInt(150) // after a prior partial note
		note, err := NewCreditNote(inv, 2, issueDate, CreditNoteModeFull,
			decimal.Zero, residual, testRules())
		require.NoError(t, err)

		assert.Equal(t, CreditNoteModeFull, note.Mode)
		assert.True(t, note.Amount.Equal(residual))
	})

	t.Run("partial amount exceeding residual is rejected", func(t *testing.T) {
		_, err := NewCreditNote(inv, 3, issueDate, CreditNoteModePartial,
			decimal.NewFromInt(500), inv.Revenue, testRules())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds residual")
	})

	t.Run("zero residual blocks any further note", func(t *testing.T) {
		_, err := NewCreditNote(inv, 4, issueDate, CreditNoteModeFull,
			decimal.Zero, decimal.Zero, testRules())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no residual")
	})

	t.Run("non-positive partial amount", func(t *testing.T) {
		_, err := NewCreditNote(inv, 5, issueDate, CreditNoteModePartial,
			decimal.Zero, inv.Revenue, testRules())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be positive")
	})

	t.Run("missing parent invoice", func(t *testing.T) {
		_, err := NewCreditNote(nil, 6, issueDate, CreditNoteModeFull,
			decimal.Zero, decimal.NewFromInt(100), testRules())
		require.Error(t, err)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := NewCreditNote(inv, 7, issueDate, CreditNoteMode("HALF"),
			decimal.Zero, inv.Revenue, testRules())
		require.Error(t, err)
	})
}

func TestCreditNote_TotalRoundTrip(t *testing.T) {
	inv := newTestInvoice(t)
	note, err := NewCreditNote(inv, 1, inv.IssueDate.AddDate(0, 1, 0),
		CreditNoteModePartial, decimal.NewFromFloat(75.50), inv.Revenue, testRules())
	require.NoError(t, err)

	fresh, err := note.RecomputeTotal(testRules())
	require.NoError(t, err)
	assert.True(t, fresh.TotalAmount.Equal(note.Total))
}

func TestCreditNote_Exchange(t *testing.T) {
	inv := newTestInvoice(t)
	note, err := NewCreditNote(inv, 1, time.Now(), CreditNoteModePartial,
		decimal.NewFromInt(20), inv.Revenue, testRules())
	require.NoError(t, err)

	require.NoError(t, note.MarkSent("ext-cn-1"))
	assert.Equal(t, ExchangeStatusSent, note.ExchangeStatus)

	// A late rejection for the superseded submission must not regress state
	tr := ApplyExchangeNotification(note.ExchangeStatus, ExchangeNotification{
		ExternalID: "ext-cn-1",
		Outcome:    NotificationRejected,
	})
	assert.False(t, note.ApplyExchangeTransition(tr))
	assert.Equal(t, ExchangeStatusSent, note.ExchangeStatus)
	assert.Nil(t, note.ExchangeError)
}
