package invoicing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fatturino/backend/internal/domain/invoicing"
	"github.com/fatturino/backend/internal/domain/shared"
)

// allocateRetries bounds progressive-number reallocation when concurrent
// creates collide on the unique index
const allocateRetries = 3

// LineItemInput is one billed line in a create request
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// CreateInvoiceInput carries everything needed to issue an invoice.
// Fund comes from the authenticated principal's profile, captured at
// creation; it is never re-derived afterwards.
type CreateInvoiceInput struct {
	OwnerID       uuid.UUID
	Fund          invoicing.FundCode
	IssueDate     time.Time
	PaymentMethod invoicing.PaymentMethod
	LineItems     []LineItemInput
}

// InvoiceService orchestrates the invoice lifecycle
type InvoiceService struct {
	invoiceRepo invoicing.InvoiceRepository
	noteRepo    invoicing.CreditNoteRepository
	registry    *invoicing.RulesRegistry
	logger      *zap.Logger
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	invoiceRepo invoicing.InvoiceRepository,
	noteRepo invoicing.CreditNoteRepository,
	registry *invoicing.RulesRegistry,
	logger *zap.Logger,
) *InvoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{
		invoiceRepo: invoiceRepo,
		noteRepo:    noteRepo,
		registry:    registry,
		logger:      logger,
	}
}

// CreateInvoice issues a new invoice: allocates the next progressive number
// for the owner and year, snapshots totals under the rules of the issue
// year, and persists the aggregate.
func (s *InvoiceService) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*invoicing.Invoice, error) {
	rules, err := s.registry.RulesFor(input.Fund, input.IssueDate.Year())
	if err != nil {
		s.logger.Warn("No fund rules for invoice",
			zap.String("fund", input.Fund.String()),
			zap.Int("year", input.IssueDate.Year()),
			zap.Error(err))
		return nil, shared.NewDomainError("UNSUPPORTED_FUND_YEAR", err.Error())
	}

	items := make([]invoicing.LineItem, 0, len(input.LineItems))
	for i, li := range input.LineItems {
		item, err := invoicing.NewLineItem(uuid.Nil, li.Description, li.Quantity, li.UnitPrice, i)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	invoice, err := s.saveWithAllocatedNumber(ctx, input, items, rules)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("owner_id", invoice.OwnerID.String()),
		zap.Int("number", invoice.ProgressiveNumber),
		zap.Int("year", invoice.Year),
		zap.String("total", invoice.TotalAmount.String()))

	return invoice, nil
}

// saveWithAllocatedNumber allocates the next progressive number and persists
// the invoice. Two concurrent creates can allocate the same number; the
// unique index rejects the loser with shared.ErrAlreadyExists and the
// allocation is retried with a fresh read.
func (s *InvoiceService) saveWithAllocatedNumber(
	ctx context.Context,
	input CreateInvoiceInput,
	items []invoicing.LineItem,
	rules invoicing.FundRules,
) (*invoicing.Invoice, error) {
	var err error
	for attempt := 0; attempt < allocateRetries; attempt++ {
		var number int
		number, err = s.invoiceRepo.NextProgressiveNumber(ctx, input.OwnerID, input.IssueDate.Year())
		if err != nil {
			return nil, err
		}

		var invoice *invoicing.Invoice
		invoice, err = invoicing.NewInvoice(input.OwnerID, number, input.IssueDate, items,
			input.PaymentMethod, input.Fund, rules)
		if err != nil {
			return nil, err
		}

		err = s.invoiceRepo.Save(ctx, invoice)
		if err == nil {
			return invoice, nil
		}
		if !errors.Is(err, shared.ErrAlreadyExists) {
			return nil, err
		}
		s.logger.Info("Progressive number taken by a concurrent create, reallocating",
			zap.String("owner_id", input.OwnerID.String()),
			zap.Int("number", number))
	}
	return nil, err
}

// GetInvoice returns an owner's invoice by ID
func (s *InvoiceService) GetInvoice(ctx context.Context, ownerID, id uuid.UUID) (*invoicing.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByIDForOwner(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, shared.ErrNotFound
	}
	return invoice, nil
}

// ListInvoices returns an owner's invoices, paginated
func (s *InvoiceService) ListInvoices(ctx context.Context, ownerID uuid.UUID, filter shared.Filter) (shared.Paginated[invoicing.Invoice], error) {
	invoices, total, err := s.invoiceRepo.FindAllForOwner(ctx, ownerID, filter)
	if err != nil {
		return shared.Paginated[invoicing.Invoice]{}, err
	}
	return shared.NewPaginated(invoices, total, filter.Page, filter.PageSize), nil
}

// SettleInvoice marks the invoice as paid on the given date. The write is
// version-guarded: the exchange reconciler may update the same row
// concurrently, and a blind save would clobber its transition.
func (s *InvoiceService) SettleInvoice(ctx context.Context, ownerID, id uuid.UUID, settlementDate time.Time) (*invoicing.Invoice, error) {
	invoice, err := s.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	expected := invoice.Version
	if err := invoice.Settle(settlementDate); err != nil {
		return nil, err
	}
	if err := s.invoiceRepo.SaveVersioned(ctx, invoice, expected); err != nil {
		return nil, err
	}
	s.logger.Info("Invoice settled",
		zap.String("invoice_id", invoice.ID.String()),
		zap.Time("settlement_date", settlementDate))
	return invoice, nil
}

// MarkInvoiceSent records the correlation id after the document was handed
// to the interchange system, version-guarded like SettleInvoice
func (s *InvoiceService) MarkInvoiceSent(ctx context.Context, ownerID, id uuid.UUID, exchangeID string) (*invoicing.Invoice, error) {
	invoice, err := s.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	expected := invoice.Version
	if err := invoice.MarkSent(exchangeID); err != nil {
		return nil, err
	}
	if err := s.invoiceRepo.SaveVersioned(ctx, invoice, expected); err != nil {
		return nil, err
	}
	return invoice, nil
}

// DeleteInvoice removes an invoice. Credit notes never outlive their parent:
// the schema cascades the delete to them and to the line items.
func (s *InvoiceService) DeleteInvoice(ctx context.Context, ownerID, id uuid.UUID) error {
	invoice, err := s.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return err
	}
	return s.invoiceRepo.Delete(ctx, ownerID, invoice.ID)
}

// EffectiveBase returns the invoice's taxable base after credit notes
func (s *InvoiceService) EffectiveBase(ctx context.Context, ownerID, id uuid.UUID) (decimal.Decimal, error) {
	invoice, err := s.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	notes, err := s.noteRepo.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return invoicing.EffectiveInvoiceBase(invoice, notes)
}

// VerifyTotals recomputes the invoice's totals from scratch and reports
// whether the stored snapshot drifted. Drift indicates a bug, so it is
// logged loudly.
func (s *InvoiceService) VerifyTotals(ctx context.Context, ownerID, id uuid.UUID) (bool, error) {
	invoice, err := s.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return false, err
	}
	rules, err := s.registry.RulesFor(invoice.Fund, invoice.Year)
	if err != nil {
		return false, err
	}
	drifted, err := invoice.TotalsDrifted(rules)
	if err != nil {
		return false, err
	}
	if drifted {
		s.logger.Error("Stored invoice totals drifted from recomputation",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("stored_revenue", invoice.Revenue.String()))
	}
	return drifted, nil
}
