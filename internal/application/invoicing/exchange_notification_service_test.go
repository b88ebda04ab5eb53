package invoicing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fatturino/backend/internal/domain/invoicing"
	"github.com/fatturino/backend/internal/domain/shared"
)

func acceptancePayload(externalID string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "customer-notification",
		"data": {"notification": {"invoice_uuid": %q, "type": "RC"}}
	}`, externalID))
}

func rejectionPayload(externalID string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "customer-notification",
		"data": {"notification": {
			"invoice_uuid": %q,
			"type": "NS",
			"message": {"lista_errori": {"Errore": {
				"Codice": "00301",
				"Descrizione": "Invalid VAT number",
				"Suggerimento": "Check the recipient VAT number"
			}}}
		}}
	}`, externalID))
}

func sentInvoice(t *testing.T, externalID string) *invoicing.Invoice {
	t.Helper()
	inv := newServiceTestInvoice(t)
	require.NoError(t, inv.MarkSent(externalID))
	return inv
}

func newReconciler(invoiceRepo *MockInvoiceRepository, noteRepo *MockCreditNoteRepository, notifier AlertNotifier) *ExchangeNotificationService {
	return NewExchangeNotificationService(ExchangeNotificationServiceConfig{
		InvoiceRepo: invoiceRepo,
		NoteRepo:    noteRepo,
		Notifier:    notifier,
	})
}

func TestExchangeNotificationService_ProcessNotification(t *testing.T) {
	ctx := context.Background()

	t.Run("rejection then acceptance converges to SENT", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		notifier := newRecordingNotifier()
		svc := newReconciler(invoiceRepo, noteRepo, notifier)

		inv := sentInvoice(t, "ext-1")
		invoiceRepo.On("FindByExchangeID", ctx, "ext-1").Return(inv, nil)
		invoiceRepo.On("SaveVersioned", ctx, inv, mock.Anything).Return(nil)

		// The submission is NOT_SENT from the exchange's point of view
		// until its verdict; force the pre-verdict state.
		inv.ExchangeStatus = invoicing.ExchangeStatusNotSent

		result, err := svc.ProcessNotification(ctx, rejectionPayload("ext-1"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, EntityInvoice, result.Entity)
		assert.Equal(t, invoicing.ExchangeStatusRejected, inv.ExchangeStatus)
		require.NotNil(t, inv.ExchangeError)
		assert.Equal(t, "Check the recipient VAT number", *inv.ExchangeError)

		result, err = svc.ProcessNotification(ctx, acceptancePayload("ext-1"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, invoicing.ExchangeStatusSent, inv.ExchangeStatus)
		assert.Nil(t, inv.ExchangeError)
	})

	t.Run("stale rejection after acceptance is ignored", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newReconciler(invoiceRepo, noteRepo, newRecordingNotifier())

		inv := sentInvoice(t, "ext-2")
		invoiceRepo.On("FindByExchangeID", ctx, "ext-2").Return(inv, nil)

		result, err := svc.ProcessNotification(ctx, rejectionPayload("ext-2"))
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, EntityInvoice, result.Entity)
		assert.Equal(t, invoicing.ExchangeStatusSent, inv.ExchangeStatus)
		assert.Nil(t, inv.ExchangeError)
		invoiceRepo.AssertNotCalled(t, "SaveVersioned", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("duplicate acceptance is a no-op", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newReconciler(invoiceRepo, noteRepo, newRecordingNotifier())

		inv := sentInvoice(t, "ext-3")
		invoiceRepo.On("FindByExchangeID", ctx, "ext-3").Return(inv, nil)

		result, err := svc.ProcessNotification(ctx, acceptancePayload("ext-3"))
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, invoicing.ExchangeStatusSent, inv.ExchangeStatus)
	})

	t.Run("invoice checked before credit note", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newReconciler(invoiceRepo, noteRepo, newRecordingNotifier())

		inv := sentInvoice(t, "ext-4")
		inv.ExchangeStatus = invoicing.ExchangeStatusNotSent
		invoiceRepo.On("FindByExchangeID", ctx, "ext-4").Return(inv, nil)
		invoiceRepo.On("SaveVersioned", ctx, inv, mock.Anything).Return(nil)

		result, err := svc.ProcessNotification(ctx, acceptancePayload("ext-4"))
		require.NoError(t, err)
		assert.Equal(t, EntityInvoice, result.Entity)
		noteRepo.AssertNotCalled(t, "FindByExchangeID", mock.Anything, mock.Anything)
	})

	t.Run("falls through to credit note", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newReconciler(invoiceRepo, noteRepo, newRecordingNotifier())

		note := newServiceTestCreditNote(t)
		require.NoError(t, note.MarkSent("ext-5"))
		note.ExchangeStatus = invoicing.ExchangeStatusNotSent

		invoiceRepo.On("FindByExchangeID", ctx, "ext-5").Return(nil, nil)
		noteRepo.On("FindByExchangeID", ctx, "ext-5").Return(note, nil)
		noteRepo.On("SaveVersioned", ctx, note, mock.Anything).Return(nil)

		result, err := svc.ProcessNotification(ctx, acceptancePayload("ext-5"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, EntityCreditNote, result.Entity)
		assert.Equal(t, invoicing.ExchangeStatusSent, note.ExchangeStatus)
	})

	t.Run("unknown external id is acknowledged and dropped", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		notifier := newRecordingNotifier()
		svc := newReconciler(invoiceRepo, noteRepo, notifier)

		invoiceRepo.On("FindByExchangeID", ctx, "ghost").Return(nil, nil)
		noteRepo.On("FindByExchangeID", ctx, "ghost").Return(nil, nil)

		result, err := svc.ProcessNotification(ctx, acceptancePayload("ghost"))
		require.NoError(t, err)
		assert.True(t, result.Dropped)
		assert.Equal(t, EntityNone, result.Entity)

		// The side channel still fires for dropped events
		alert, ok := notifier.wait(time.Second)
		require.True(t, ok)
		assert.Equal(t, "ghost", alert.ExternalID)
		assert.False(t, alert.Applied)
	})

	t.Run("malformed payload is acknowledged and dropped", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newReconciler(invoiceRepo, noteRepo, newRecordingNotifier())

		result, err := svc.ProcessNotification(ctx, []byte(`{"event":"customer-notification","data":{"notification":{"type":"RC"}}}`))
		require.NoError(t, err)
		assert.True(t, result.Dropped)
		invoiceRepo.AssertNotCalled(t, "FindByExchangeID", mock.Anything, mock.Anything)
	})

	t.Run("optimistic lock conflict retries with a fresh read", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newReconciler(invoiceRepo, noteRepo, newRecordingNotifier())

		inv := sentInvoice(t, "ext-6")
		inv.ExchangeStatus = invoicing.ExchangeStatusNotSent
		invoiceRepo.On("FindByExchangeID", ctx, "ext-6").Return(inv, nil)
		invoiceRepo.On("SaveVersioned", ctx, inv, mock.Anything).
			Return(shared.ErrConcurrencyConflict).Once()
		invoiceRepo.On("SaveVersioned", ctx, inv, mock.Anything).Return(nil).Once()

		result, err := svc.ProcessNotification(ctx, acceptancePayload("ext-6"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		invoiceRepo.AssertNumberOfCalls(t, "SaveVersioned", 2)
	})

	t.Run("conflict count reaches the result", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newReconciler(invoiceRepo, noteRepo, newRecordingNotifier())

		// The refetch after a lost race must see the row as the winner left
		// it, so each fetch hands out a fresh aggregate
		stale := sentInvoice(t, "ext-8")
		stale.ExchangeStatus = invoicing.ExchangeStatusNotSent
		current := sentInvoice(t, "ext-8")
		current.ExchangeStatus = invoicing.ExchangeStatusNotSent
		invoiceRepo.On("FindByExchangeID", ctx, "ext-8").Return(stale, nil).Once()
		invoiceRepo.On("FindByExchangeID", ctx, "ext-8").Return(current, nil).Once()
		invoiceRepo.On("SaveVersioned", ctx, stale, mock.Anything).
			Return(shared.ErrConcurrencyConflict).Once()
		invoiceRepo.On("SaveVersioned", ctx, current, mock.Anything).Return(nil).Once()

		result, err := svc.ProcessNotification(ctx, acceptancePayload("ext-8"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, 1, result.Conflicts)
		invoiceRepo.AssertExpectations(t)
	})

	t.Run("panicking notifier never fails the transition", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newReconciler(invoiceRepo, noteRepo, panickingNotifier{})

		inv := sentInvoice(t, "ext-7")
		inv.ExchangeStatus = invoicing.ExchangeStatusNotSent
		invoiceRepo.On("FindByExchangeID", ctx, "ext-7").Return(inv, nil)
		invoiceRepo.On("SaveVersioned", ctx, inv, mock.Anything).Return(nil)

		result, err := svc.ProcessNotification(ctx, acceptancePayload("ext-7"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		// Give the fire-and-forget goroutine a beat to panic and recover
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, invoicing.ExchangeStatusSent, inv.ExchangeStatus)
	})
}

// mapIdempotencyStore is a minimal in-process shared.IdempotencyStore for
// exercising the dedupe path without infrastructure.
type mapIdempotencyStore struct {
	seen map[string]bool
}

func newMapIdempotencyStore() *mapIdempotencyStore {
	return &mapIdempotencyStore{seen: make(map[string]bool)}
}

func (s *mapIdempotencyStore) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *mapIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	return s.seen[key], nil
}

func (s *mapIdempotencyStore) Close() error { return nil }

func rejectionPayloadWithMessage(externalID, suggestion string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "customer-notification",
		"data": {"notification": {
			"invoice_uuid": %q,
			"type": "NS",
			"message": {"lista_errori": {"Errore": {
				"Codice": "00301",
				"Descrizione": "Invalid VAT number",
				"Suggerimento": %q
			}}}
		}}
	}`, externalID, suggestion))
}

func TestExchangeNotificationService_Deduplication(t *testing.T) {
	ctx := context.Background()

	newDedupingReconciler := func(invoiceRepo *MockInvoiceRepository, noteRepo *MockCreditNoteRepository) *ExchangeNotificationService {
		return NewExchangeNotificationService(ExchangeNotificationServiceConfig{
			InvoiceRepo: invoiceRepo,
			NoteRepo:    noteRepo,
			Notifier:    newRecordingNotifier(),
			Idempotency: newMapIdempotencyStore(),
		})
	}

	t.Run("byte-identical redelivery is skipped", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newDedupingReconciler(invoiceRepo, noteRepo)

		inv := sentInvoice(t, "ext-dup")
		inv.ExchangeStatus = invoicing.ExchangeStatusNotSent
		invoiceRepo.On("FindByExchangeID", ctx, "ext-dup").Return(inv, nil)
		invoiceRepo.On("SaveVersioned", ctx, inv, mock.Anything).Return(nil)

		result, err := svc.ProcessNotification(ctx, rejectionPayload("ext-dup"))
		require.NoError(t, err)
		assert.True(t, result.Applied)

		result, err = svc.ProcessNotification(ctx, rejectionPayload("ext-dup"))
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, "duplicate delivery", result.Reason)
		invoiceRepo.AssertNumberOfCalls(t, "SaveVersioned", 1)
	})

	t.Run("second rejection with a new error list is applied", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newDedupingReconciler(invoiceRepo, noteRepo)

		inv := sentInvoice(t, "ext-rerej")
		inv.ExchangeStatus = invoicing.ExchangeStatusNotSent
		invoiceRepo.On("FindByExchangeID", ctx, "ext-rerej").Return(inv, nil)
		invoiceRepo.On("SaveVersioned", ctx, inv, mock.Anything).Return(nil)

		result, err := svc.ProcessNotification(ctx, rejectionPayloadWithMessage("ext-rerej", "First failure"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		require.NotNil(t, inv.ExchangeError)
		assert.Equal(t, "First failure", *inv.ExchangeError)

		// Same id and outcome but a different error list is a new event,
		// not a redelivery: the fresher message must land on the document.
		result, err = svc.ProcessNotification(ctx, rejectionPayloadWithMessage("ext-rerej", "Second failure"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		require.NotNil(t, inv.ExchangeError)
		assert.Equal(t, "Second failure", *inv.ExchangeError)
	})

	t.Run("acceptance after rejection is not treated as duplicate", func(t *testing.T) {
		invoiceRepo := new(MockInvoiceRepository)
		noteRepo := new(MockCreditNoteRepository)
		svc := newDedupingReconciler(invoiceRepo, noteRepo)

		inv := sentInvoice(t, "ext-flip")
		inv.ExchangeStatus = invoicing.ExchangeStatusNotSent
		invoiceRepo.On("FindByExchangeID", ctx, "ext-flip").Return(inv, nil)
		invoiceRepo.On("SaveVersioned", ctx, inv, mock.Anything).Return(nil)

		_, err := svc.ProcessNotification(ctx, rejectionPayload("ext-flip"))
		require.NoError(t, err)

		result, err := svc.ProcessNotification(ctx, acceptancePayload("ext-flip"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, invoicing.ExchangeStatusSent, inv.ExchangeStatus)
	})
}
