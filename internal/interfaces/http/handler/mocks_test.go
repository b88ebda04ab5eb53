package handler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/fatturino/backend/internal/domain/invoicing"
	"github.com/fatturino/backend/internal/domain/shared"
	"github.com/fatturino/backend/internal/infrastructure/telemetry"
)

// MockInvoiceRepository implements invoicing.InvoiceRepository for testing
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
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
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

// MockCreditNoteRepository implements invoicing.CreditNoteRepository for testing
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
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
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

// MockLedgerRepository implements invoicing.LedgerRepository for testing
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

func handlerTestRules() invoicing.FundRules {
	return invoicing.FundRules{
		Fund:              invoicing.FundSeparateManagement,
		Year:              2024,
		IncomeCoefficient: decimal.NewFromFloat(0.78),
		ContributionRate:  decimal.NewFromFloat(0.2572),
		MinContribution:   decimal.Zero,
	}
}

func handlerTestRegistry() *invoicing.RulesRegistry {
	reg := invoicing.NewRulesRegistry()
	reg.Register(handlerTestRules(), invoicing.FlatSchedule(decimal.NewFromFloat(0.15)))
	return reg
}

// handlerTestMetrics builds BusinessMetrics over a no-op meter so the
// recording paths run without an exporter
func handlerTestMetrics(t *testing.T) *telemetry.BusinessMetrics {
	t.Helper()
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter: noop.NewMeterProvider().Meter("test"),
	})
	require.NoError(t, err)
	return bm
}

func newHandlerTestInvoice(t *testing.T, ownerID uuid.UUID) *invoicing.Invoice {
	t.Helper()
	item, err := invoicing.NewLineItem(uuid.Nil, "Consulting", decimal.NewFromInt(2), decimal.NewFromInt(100), 0)
	require.NoError(t, err)
	inv, err := invoicing.NewInvoice(ownerID, 1,
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		[]invoicing.LineItem{*item},
		invoicing.PaymentMethodBankTransfer,
		invoicing.FundSeparateManagement,
		handlerTestRules())
	require.NoError(t, err)
	return inv
}
