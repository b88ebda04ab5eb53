package invoicing

import (
	"context"

	"github.com/google/uuid"

	"github.com/fatturino/backend/internal/domain/shared"
)

// InvoiceRepository persists invoice aggregates
type InvoiceRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	FindByIDForOwner(ctx context.Context, ownerID, id uuid.UUID) (*Invoice, error)
	// FindByExchangeID resolves the external correlation id; returns
	// (nil, nil) when no invoice matches.
	FindByExchangeID(ctx context.Context, exchangeID string) (*Invoice, error)
	FindAllForOwner(ctx context.Context, ownerID uuid.UUID, filter shared.Filter) ([]Invoice, int64, error)
	// ListSettled returns invoices settled within the fiscal year, line
	// items loaded.
	ListSettled(ctx context.Context, ownerID uuid.UUID, year int) ([]Invoice, error)
	// NextProgressiveNumber allocates the next number for owner+year.
	// Must run inside the transaction that persists the document.
	NextProgressiveNumber(ctx context.Context, ownerID uuid.UUID, year int) (int, error)
	Save(ctx context.Context, invoice *Invoice) error
	// SaveVersioned persists under optimistic locking: the write applies
	// only if the stored Version matches expectedVersion, otherwise
	// shared.ErrConcurrencyConflict.
	SaveVersioned(ctx context.Context, invoice *Invoice, expectedVersion int) error
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
}

// CreditNoteRepository persists credit note aggregates
type CreditNoteRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*CreditNote, error)
	FindByIDForOwner(ctx context.Context, ownerID, id uuid.UUID) (*CreditNote, error)
	// FindByExchangeID resolves the external correlation id; returns
	// (nil, nil) when no credit note matches.
	FindByExchangeID(ctx context.Context, exchangeID string) (*CreditNote, error)
	// ListByInvoice returns all notes against an invoice in issuance order
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]CreditNote, error)
	FindAllForOwner(ctx context.Context, ownerID uuid.UUID, filter shared.Filter) ([]CreditNote, int64, error)
	NextProgressiveNumber(ctx context.Context, ownerID uuid.UUID, year int) (int, error)
	Save(ctx context.Context, note *CreditNote) error
	SaveVersioned(ctx context.Context, note *CreditNote, expectedVersion int) error
}

// LedgerRepository persists yearly ledgers
type LedgerRepository interface {
	FindByOwnerYear(ctx context.Context, ownerID uuid.UUID, year int) (*YearlyLedger, error)
	// Upsert wholly replaces the ledger row for (owner, year) in a single
	// write; the prior row survives intact if the write fails.
	Upsert(ctx context.Context, ledger *YearlyLedger) error
}
