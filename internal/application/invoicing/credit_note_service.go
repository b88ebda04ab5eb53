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

// CreateCreditNoteInput carries a credit note creation request.
// PartialAmount is required iff Mode is PARTIAL.
type CreateCreditNoteInput struct {
	OwnerID       uuid.UUID
	InvoiceID     uuid.UUID
	Mode          invoicing.CreditNoteMode
	PartialAmount decimal.Decimal
	IssueDate     time.Time
}

// CreditNoteService orchestrates credit note issuance against invoices
type CreditNoteService struct {
	invoiceRepo invoicing.InvoiceRepository
	noteRepo    invoicing.CreditNoteRepository
	registry    *invoicing.RulesRegistry
	logger      *zap.Logger
}

// NewCreditNoteService creates a new CreditNoteService
func NewCreditNoteService(
	invoiceRepo invoicing.InvoiceRepository,
	noteRepo invoicing.CreditNoteRepository,
	registry *invoicing.RulesRegistry,
	logger *zap.Logger,
) *CreditNoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditNoteService{
		invoiceRepo: invoiceRepo,
		noteRepo:    noteRepo,
		registry:    registry,
		logger:      logger,
	}
}

// CreateCreditNote issues a credit note. The parent's residual is derived
// from its already-issued notes right before validation, so a FULL note
// after prior PARTIAL notes reverses only what remains.
func (s *CreditNoteService) CreateCreditNote(ctx context.Context, input CreateCreditNoteInput) (*invoicing.CreditNote, error) {
	invoice, err := s.invoiceRepo.FindByIDForOwner(ctx, input.OwnerID, input.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, shared.ErrNotFound
	}

	rules, err := s.registry.RulesFor(invoice.Fund, input.IssueDate.Year())
	if err != nil {
		return nil, shared.NewDomainError("UNSUPPORTED_FUND_YEAR", err.Error())
	}

	notes, err := s.noteRepo.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}

	residual, err := invoicing.EffectiveInvoiceBase(invoice, notes)
	if err != nil {
		return nil, err
	}

	// Number allocation races with concurrent creates; the unique index
	// rejects the loser and the allocation is retried with a fresh read.
	var note *invoicing.CreditNote
	for attempt := 0; attempt < allocateRetries; attempt++ {
		var number int
		number, err = s.noteRepo.NextProgressiveNumber(ctx, input.OwnerID, input.IssueDate.Year())
		if err != nil {
			return nil, err
		}

		note, err = invoicing.NewCreditNote(invoice, number, input.IssueDate, input.Mode,
			input.PartialAmount, residual, rules)
		if err != nil {
			return nil, err
		}

		err = s.noteRepo.Save(ctx, note)
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrAlreadyExists) {
			return nil, err
		}
		s.logger.Info("Progressive number taken by a concurrent create, reallocating",
			zap.String("owner_id", input.OwnerID.String()),
			zap.Int("number", number))
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Credit note issued",
		zap.String("credit_note_id", note.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("mode", note.Mode.String()),
		zap.String("amount", note.Amount.String()))

	return note, nil
}

// GetCreditNote returns an owner's credit note by ID
func (s *CreditNoteService) GetCreditNote(ctx context.Context, ownerID, id uuid.UUID) (*invoicing.CreditNote, error) {
	note, err := s.noteRepo.FindByIDForOwner(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, shared.ErrNotFound
	}
	return note, nil
}

// ListCreditNotes returns an owner's credit notes, paginated
func (s *CreditNoteService) ListCreditNotes(ctx context.Context, ownerID uuid.UUID, filter shared.Filter) (shared.Paginated[invoicing.CreditNote], error) {
	notes, total, err := s.noteRepo.FindAllForOwner(ctx, ownerID, filter)
	if err != nil {
		return shared.Paginated[invoicing.CreditNote]{}, err
	}
	return shared.NewPaginated(notes, total, filter.Page, filter.PageSize), nil
}

// ListForInvoice returns all notes against an invoice in issuance order
func (s *CreditNoteService) ListForInvoice(ctx context.Context, ownerID, invoiceID uuid.UUID) ([]invoicing.CreditNote, error) {
	invoice, err := s.invoiceRepo.FindByIDForOwner(ctx, ownerID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, shared.ErrNotFound
	}
	return s.noteRepo.ListByInvoice(ctx, invoice.ID)
}

// MarkCreditNoteSent records the correlation id after submission. The write
// is version-guarded so a concurrent reconciler transition is not clobbered.
func (s *CreditNoteService) MarkCreditNoteSent(ctx context.Context, ownerID, id uuid.UUID, exchangeID string) (*invoicing.CreditNote, error) {
	note, err := s.GetCreditNote(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	expected := note.Version
	if err := note.MarkSent(exchangeID); err != nil {
		return nil, err
	}
	if err := s.noteRepo.SaveVersioned(ctx, note, expected); err != nil {
		return nil, err
	}
	return note, nil
}
