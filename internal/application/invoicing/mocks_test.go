package invoicing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fatturino/backend/internal/domain/invoicing"
	"github.com/fatturino/backend/internal/domain/shared"
)

// MockInvoiceRepository is a mock implementation of InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*invoicing.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByIDForOwner(ctx context.Context, ownerID, id uuid.UUID) (*invoicing.Invoice, error) {
	args := m.Called(ctx, ownerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByExchangeID(ctx context.Context, exchangeID string) (*invoicing.Invoice, error) {
	args := m.Called(ctx, exchangeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindAllForOwner(ctx context.Context, ownerID uuid.UUID, filter shared.Filter) ([]invoicing.Invoice, int64, error) {
	args := m.Called(ctx, ownerID, filter)
	return args.Get(0).([]invoicing.Invoice), args.Get(1).(int64), args.Error(2)
}

func (m *MockInvoiceRepository) ListSettled(ctx context.Context, ownerID uuid.UUID, year int) ([]invoicing.Invoice, error) {
	args := m.Called(ctx, ownerID, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]invoicing.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) NextProgressiveNumber(ctx context.Context, ownerID uuid.UUID, year int) (int, error) {
	args := m.Called(ctx, ownerID, year)
	return args.Int(0), args.Error(1)
}

func (m *MockInvoiceRepository) Save(ctx context.Context, invoice *invoicing.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) SaveVersioned(ctx context.Context, invoice *invoicing.Invoice, expectedVersion int) error {
	args := m.Called(ctx, invoice, expectedVersion)
	return args.Error(0)
}

func (m *MockInvoiceRepository) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	args := m.Called(ctx, ownerID, id)
	return args.Error(0)
}

// MockCreditNoteRepository is a mock implementation of CreditNoteRepository
type MockCreditNoteRepository struct {
	mock.Mock
}

func (m *MockCreditNoteRepository) FindByID(ctx context.Context, id uuid.UUID) (*invoicing.CreditNote, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.CreditNote), args.Error(1)
}

func (m *MockCreditNoteRepository) FindByIDForOwner(ctx context.Context, ownerID, id uuid.UUID) (*invoicing.CreditNote, error) {
	args := m.Called(ctx, ownerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.CreditNote), args.Error(1)
}

func (m *MockCreditNoteRepository) FindByExchangeID(ctx context.Context, exchangeID string) (*invoicing.CreditNote, error) {
	args := m.Called(ctx, exchangeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.CreditNote), args.Error(1)
}

func (m *MockCreditNoteRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]invoicing.CreditNote, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]invoicing.CreditNote), args.Error(1)
}

func (m *MockCreditNoteRepository) FindAllForOwner(ctx context.Context, ownerID uuid.UUID, filter shared.Filter) ([]invoicing.CreditNote, int64, error) {
	args := m.Called(ctx, ownerID, filter)
	return args.Get(0).([]invoicing.CreditNote), args.Get(1).(int64), args.Error(2)
}

func (m *MockCreditNoteRepository) NextProgressiveNumber(ctx context.Context, ownerID uuid.UUID, year int) (int, error) {
	args := m.Called(ctx, ownerID, year)
	return args.Int(0), args.Error(1)
}

func (m *MockCreditNoteRepository) Save(ctx context.Context, note *invoicing.CreditNote) error {
	args := m.Called(ctx, note)
	return args.Error(0)
}

func (m *MockCreditNoteRepository) SaveVersioned(ctx context.Context, note *invoicing.CreditNote, expectedVersion int) error {
	args := m.Called(ctx, note, expectedVersion)
	return args.Error(0)
}

// MockLedgerRepository is a mock implementation of LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) FindByOwnerYear(ctx context.Context, ownerID uuid.UUID, year int) (*invoicing.YearlyLedger, error) {
	args := m.Called(ctx, ownerID, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.YearlyLedger), args.Error(1)
}

func (m *MockLedgerRepository) Upsert(ctx context.Context, ledger *invoicing.YearlyLedger) error {
	args := m.Called(ctx, ledger)
	return args.Error(0)
}

func serviceTestRules() invoicing.FundRules {
	return invoicing.FundRules{
		Fund:              invoicing.FundSeparateManagement,
		Year:              2024,
		IncomeCoefficient: decimal.NewFromFloat(0.78),
		ContributionRate:  decimal.NewFromFloat(0.2572),
		MinContribution:   decimal.Zero,
	}
}

func serviceTestRegistry() *invoicing.RulesRegistry {
	reg := invoicing.NewRulesRegistry()
	reg.Register(serviceTestRules(), invoicing.FlatSchedule(decimal.NewFromFloat(0.15)))
	return reg
}

func newServiceTestInvoice(t *testing.T) *invoicing.Invoice {
	t.Helper()
	item, err := invoicing.NewLineItem(uuid.Nil, "Consulting", decimal.NewFromInt(2), decimal.NewFromInt(100), 0)
	require.NoError(t, err)
	inv, err := invoicing.NewInvoice(uuid.New(), 1,
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		[]invoicing.LineItem{*item},
		invoicing.PaymentMethodBankTransfer,
		invoicing.FundSeparateManagement,
		serviceTestRules())
	require.NoError(t, err)
	return inv
}

func newServiceTestCreditNote(t *testing.T) *invoicing.CreditNote {
	t.Helper()
	inv := newServiceTestInvoice(t)
	note, err := invoicing.NewCreditNote(inv, 1, inv.IssueDate.AddDate(0, 0, 5),
		invoicing.CreditNoteModePartial, decimal.NewFromInt(50), inv.Revenue, serviceTestRules())
	require.NoError(t, err)
	return note
}

// recordingNotifier captures alerts synchronously for assertions
type recordingNotifier struct {
	ch chan ExchangeAlert
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan ExchangeAlert, 16)}
}

func (n *recordingNotifier) NotifyExchangeOutcome(_ context.Context, alert ExchangeAlert) {
	n.ch <- alert
}

func (n *recordingNotifier) wait(timeout time.Duration) (ExchangeAlert, bool) {
	select {
	case a := <-n.ch:
		return a, true
	case <-time.After(timeout):
		return ExchangeAlert{}, false
	}
}

// panickingNotifier always panics; the reconciler must shrug it off
type panickingNotifier struct{}

func (panickingNotifier) NotifyExchangeOutcome(context.Context, ExchangeAlert) {
	panic("notifier exploded")
}
